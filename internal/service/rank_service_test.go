package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type mockLadderRepo struct {
	ranks        map[string]*models.Rank
	listResult   []models.Rank
	listTotal    int
	listCalls    int
	orderTaken   bool
	inUse        bool
	requirements []models.PromotionRequirement
	upserted     *models.PromotionRequirement
	deletedID    string
}

func (m *mockLadderRepo) List(ctx context.Context, filter models.RankFilter) ([]models.Rank, int, error) {
	m.listCalls++
	return m.listResult, m.listTotal, nil
}

func (m *mockLadderRepo) FindByID(ctx context.Context, id string) (*models.Rank, error) {
	rank, ok := m.ranks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rank, nil
}

func (m *mockLadderRepo) ExistsByOrder(ctx context.Context, order int, excludeID string) (bool, error) {
	return m.orderTaken, nil
}

func (m *mockLadderRepo) Create(ctx context.Context, rank *models.Rank) error {
	rank.ID = "new-rank"
	return nil
}

func (m *mockLadderRepo) Update(ctx context.Context, rank *models.Rank) error {
	return nil
}

func (m *mockLadderRepo) InUse(ctx context.Context, id string) (bool, error) {
	return m.inUse, nil
}

func (m *mockLadderRepo) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	return nil
}

func (m *mockLadderRepo) ListRequirements(ctx context.Context) ([]models.PromotionRequirement, error) {
	return m.requirements, nil
}

func (m *mockLadderRepo) FindRequirement(ctx context.Context, fromRankID, toRankID string) (*models.PromotionRequirement, error) {
	return nil, sql.ErrNoRows
}

func (m *mockLadderRepo) UpsertRequirement(ctx context.Context, req *models.PromotionRequirement) error {
	m.upserted = req
	return nil
}

type mockCache struct {
	entries  map[string][]byte
	deleted  []string
	setCalls int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	m.setCalls++
	return nil
}

func (m *mockCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deleted = append(m.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}

func TestRankServiceListCachesUnfilteredPages(t *testing.T) {
	repo := &mockLadderRepo{listResult: []models.Rank{{ID: "r1", Name: "White Belt", RankOrder: 1}}, listTotal: 1}
	cache := newMockCache()
	svc := NewRankService(repo, cache, time.Minute, validator.New(), zap.NewNop())

	filter := models.RankFilter{Page: 1, PageSize: 50}

	ranks, total, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, ranks, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, repo.listCalls)
	assert.Equal(t, 1, cache.setCalls)

	ranks, _, err = svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, ranks, 1)
	assert.Equal(t, 1, repo.listCalls)
}

func TestRankServiceListSkipsCacheForSearch(t *testing.T) {
	repo := &mockLadderRepo{listResult: []models.Rank{{ID: "r1"}}, listTotal: 1}
	cache := newMockCache()
	svc := NewRankService(repo, cache, time.Minute, validator.New(), zap.NewNop())

	_, _, err := svc.List(context.Background(), models.RankFilter{Search: "black", Page: 1, PageSize: 50})
	require.NoError(t, err)
	assert.Zero(t, cache.setCalls)
}

func TestRankServiceCreateRejectsTakenOrder(t *testing.T) {
	repo := &mockLadderRepo{orderTaken: true}
	svc := NewRankService(repo, nil, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), CreateRankRequest{Name: "Blue Belt", RankOrder: 4})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestRankServiceCreateInvalidatesCache(t *testing.T) {
	repo := &mockLadderRepo{}
	cache := newMockCache()
	cache.entries["ranks:list:all:1:50"] = []byte(`{"ranks":[],"total":0}`)
	cache.entries["eligibility:s1"] = []byte(`{}`)
	svc := NewRankService(repo, cache, time.Minute, validator.New(), zap.NewNop())

	rank, err := svc.Create(context.Background(), CreateRankRequest{Name: "Blue Belt", RankOrder: 4})
	require.NoError(t, err)
	assert.Equal(t, "new-rank", rank.ID)
	assert.Empty(t, cache.entries)
	assert.Contains(t, cache.deleted, "ranks:list:*")
	assert.Contains(t, cache.deleted, "eligibility:*")
}

func TestRankServiceDeleteGuardsReferencedRank(t *testing.T) {
	repo := &mockLadderRepo{
		ranks: map[string]*models.Rank{"r1": {ID: "r1", Name: "White Belt", RankOrder: 1}},
		inUse: true,
	}
	svc := NewRankService(repo, nil, time.Minute, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), "r1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Empty(t, repo.deletedID)
}

func TestRankServiceUpsertRequirementRejectsSameEndpoints(t *testing.T) {
	id := "0b8f6c2e-58c5-4b87-9f1e-0c9b87d1a111"
	repo := &mockLadderRepo{ranks: map[string]*models.Rank{id: {ID: id}}}
	svc := NewRankService(repo, nil, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.UpsertRequirement(context.Background(), UpsertRequirementRequest{
		FromRankID:      id,
		ToRankID:        id,
		RequiredClasses: 20,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestRankServiceUpsertRequirementUnknownRank(t *testing.T) {
	from := "0b8f6c2e-58c5-4b87-9f1e-0c9b87d1a111"
	to := "1c9e7d3f-69d6-4c98-a02f-1dac98e2b222"
	repo := &mockLadderRepo{ranks: map[string]*models.Rank{from: {ID: from}}}
	svc := NewRankService(repo, nil, time.Minute, validator.New(), zap.NewNop())

	_, err := svc.UpsertRequirement(context.Background(), UpsertRequirementRequest{
		FromRankID:      from,
		ToRankID:        to,
		RequiredClasses: 20,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRankServiceUpsertRequirementSuccess(t *testing.T) {
	from := "0b8f6c2e-58c5-4b87-9f1e-0c9b87d1a111"
	to := "1c9e7d3f-69d6-4c98-a02f-1dac98e2b222"
	repo := &mockLadderRepo{ranks: map[string]*models.Rank{from: {ID: from}, to: {ID: to}}}
	youth := 18
	svc := NewRankService(repo, nil, time.Minute, validator.New(), zap.NewNop())

	req, err := svc.UpsertRequirement(context.Background(), UpsertRequirementRequest{
		FromRankID:           from,
		ToRankID:             to,
		RequiredClasses:      24,
		YouthRequiredClasses: &youth,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.upserted)
	assert.Equal(t, 24, req.RequiredClasses)
	require.NotNil(t, req.YouthRequiredClasses)
	assert.Equal(t, 18, *req.YouthRequiredClasses)
}
