package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type mockStudentReader struct {
	students  map[string]*models.StudentDetail
	order     []string
	findCalls int
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	m.findCalls++
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentReader) ListActiveIDs(ctx context.Context) ([]string, error) {
	if m.order != nil {
		return m.order, nil
	}
	ids := make([]string, 0, len(m.students))
	for id := range m.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type mockLedgerRepo struct {
	entries   map[string][]models.Promotion
	createErr error
	created   []models.Promotion
}

func (m *mockLedgerRepo) FindLatestByStudent(ctx context.Context, studentID string) (*models.Promotion, error) {
	history := m.entries[studentID]
	if len(history) == 0 {
		return nil, sql.ErrNoRows
	}
	latest := history[0]
	for _, entry := range history[1:] {
		if entry.PromotedAt.After(latest.PromotedAt) {
			latest = entry
		}
	}
	return &latest, nil
}

func (m *mockLedgerRepo) ListByStudent(ctx context.Context, studentID string) ([]models.PromotionDetail, error) {
	var details []models.PromotionDetail
	for _, entry := range m.entries[studentID] {
		details = append(details, models.PromotionDetail{Promotion: entry})
	}
	return details, nil
}

func (m *mockLedgerRepo) Create(ctx context.Context, promotion *models.Promotion, expectedPriorRankID *string) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.entries == nil {
		m.entries = make(map[string][]models.Promotion)
	}
	m.entries[promotion.StudentID] = append(m.entries[promotion.StudentID], *promotion)
	m.created = append(m.created, *promotion)
	return nil
}

type mockRankRepo struct {
	ranks []models.Rank
	reqs  []models.PromotionRequirement
}

func (m *mockRankRepo) FindByID(ctx context.Context, id string) (*models.Rank, error) {
	for i := range m.ranks {
		if m.ranks[i].ID == id {
			rank := m.ranks[i]
			return &rank, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockRankRepo) FindByOrder(ctx context.Context, order int) (*models.Rank, error) {
	for i := range m.ranks {
		if m.ranks[i].RankOrder == order {
			rank := m.ranks[i]
			return &rank, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockRankRepo) FindBase(ctx context.Context, track models.RankTrack) (*models.Rank, error) {
	var base *models.Rank
	for i := range m.ranks {
		rank := m.ranks[i]
		if rank.Track() != track {
			continue
		}
		if base == nil || rank.RankOrder < base.RankOrder {
			base = &rank
		}
	}
	if base == nil {
		return nil, sql.ErrNoRows
	}
	return base, nil
}

func (m *mockRankRepo) FindRequirement(ctx context.Context, fromRankID, toRankID string) (*models.PromotionRequirement, error) {
	for i := range m.reqs {
		if m.reqs[i].FromRankID == fromRankID && m.reqs[i].ToRankID == toRankID {
			req := m.reqs[i]
			return &req, nil
		}
	}
	return nil, sql.ErrNoRows
}

type mockAttendanceCounter struct {
	counts    map[string]int
	lastSince map[string]*time.Time
}

func (m *mockAttendanceCounter) CountPresentSince(ctx context.Context, studentID string, since *time.Time) (int, error) {
	if m.lastSince == nil {
		m.lastSince = make(map[string]*time.Time)
	}
	m.lastSince[studentID] = since
	return m.counts[studentID], nil
}

type mockUserRoles struct {
	roles map[string]models.UserRole
	err   error
}

func (m *mockUserRoles) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	if m.err != nil {
		return m.err
	}
	if m.roles == nil {
		m.roles = make(map[string]models.UserRole)
	}
	m.roles[id] = role
	return nil
}

var evalDate = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return evalDate }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func timePtr(v time.Time) *time.Time { return &v }

// adultLadder mirrors a conventional five-belt adult progression plus a
// single youth belt below the track boundary.
func adultLadder() []models.Rank {
	return []models.Rank{
		{ID: "youth-white", Name: "Youth White", RankOrder: 1},
		{ID: "youth-grey", Name: "Youth Grey", RankOrder: 2},
		{ID: "white", Name: "White Belt", RankOrder: 14},
		{ID: "blue", Name: "Blue Belt", RankOrder: 15},
		{ID: "purple", Name: "Purple Belt", RankOrder: 16, GrantsTeaching: true},
		{ID: "brown", Name: "Brown Belt", RankOrder: 17},
		{ID: "black", Name: "Black Belt", RankOrder: 18, MinAge: intPtr(18)},
	}
}

func ladderRequirements() []models.PromotionRequirement {
	return []models.PromotionRequirement{
		{ID: "q1", FromRankID: "white", ToRankID: "blue", RequiredClasses: 40, YouthRequiredClasses: intPtr(30)},
		{ID: "q2", FromRankID: "blue", ToRankID: "purple", RequiredClasses: 45},
		{ID: "q3", FromRankID: "purple", ToRankID: "brown", RequiredClasses: 50},
		{ID: "q4", FromRankID: "brown", ToRankID: "black", RequiredClasses: 60},
	}
}

func adultStudent(id string) *models.StudentDetail {
	return &models.StudentDetail{Student: models.Student{
		ID:        id,
		FullName:  "Adult Student",
		BirthDate: time.Date(2000, 3, 10, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}}
}

func youthStudent(id string) *models.StudentDetail {
	return &models.StudentDetail{Student: models.Student{
		ID:        id,
		FullName:  "Youth Student",
		BirthDate: time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC),
		Active:    true,
	}}
}

func newEngine(students *mockStudentReader, ledger *mockLedgerRepo, ranks *mockRankRepo, attendance *mockAttendanceCounter, users *mockUserRoles) *PromotionService {
	return NewPromotionService(students, ledger, ranks, attendance, users, nil, 30, 4, 0, nil, nil, fixedClock)
}

func newCachedEngine(students *mockStudentReader, ledger *mockLedgerRepo, ranks *mockRankRepo, attendance *mockAttendanceCounter, cache *mockCache) *PromotionService {
	return NewPromotionService(students, ledger, ranks, attendance, nil, cache, 30, 4, time.Minute, nil, nil, fixedClock)
}

func TestEvaluateEligibilityNewAdultStudent(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 40}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	result, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, models.TrackAdult, result.Track)
	assert.Equal(t, "white", result.CurrentRank.ID)
	require.True(t, result.NextApplicable)
	assert.Equal(t, "blue", result.NextRank.ID)
	assert.Equal(t, 40, result.RequiredClasses)
	assert.Equal(t, 40, result.AttendedClasses)
	assert.True(t, result.Eligible, "count equal to the threshold must qualify")
	assert.Nil(t, result.BaselineDate, "never-promoted student counts all history")
}

func TestEvaluateEligibilityYouthOverride(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"y1": youthStudent("y1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{
		ranks: adultLadder(),
		reqs: []models.PromotionRequirement{
			{ID: "qy", FromRankID: "youth-white", ToRankID: "youth-grey", RequiredClasses: 40, YouthRequiredClasses: intPtr(30)},
		},
	}
	attendance := &mockAttendanceCounter{counts: map[string]int{"y1": 29}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	result, err := svc.EvaluateEligibility(context.Background(), "y1")
	require.NoError(t, err)

	assert.Equal(t, models.TrackYouth, result.Track)
	assert.Equal(t, "youth-white", result.CurrentRank.ID)
	assert.Equal(t, 30, result.RequiredClasses, "youth override applies on the youth ladder")
	assert.False(t, result.Eligible)
}

func TestEvaluateEligibilityLadderCeiling(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "black", PromotedAt: evalDate.AddDate(-1, 0, 0)}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 100}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	result, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, "black", result.CurrentRank.ID)
	assert.False(t, result.NextApplicable)
	assert.Nil(t, result.NextRank)
	assert.False(t, result.Eligible)
}

func TestEvaluateEligibilityYouthTrackBoundary(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"y1": youthStudent("y1")}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"y1": {{ID: "p1", StudentID: "y1", RankID: "youth-grey", PromotedAt: evalDate.AddDate(0, -6, 0)}},
	}}
	// No rank at order 3, so the next step would be resolved only if one
	// existed. With a full ladder, order 13 tops out for youth students.
	ranks := &mockRankRepo{ranks: []models.Rank{
		{ID: "youth-grey", Name: "Youth Grey", RankOrder: 13},
		{ID: "white", Name: "White Belt", RankOrder: 14},
	}}
	attendance := &mockAttendanceCounter{counts: map[string]int{"y1": 100}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	result, err := svc.EvaluateEligibility(context.Background(), "y1")
	require.NoError(t, err)

	assert.False(t, result.NextApplicable, "order 14 belongs to the adult ladder")
	assert.Nil(t, result.NextRank)
}

func TestEvaluateEligibilityBaselinePrecedence(t *testing.T) {
	promotedAt := evalDate.AddDate(0, -8, 0)
	resetAt := evalDate.AddDate(0, -2, 0)

	student := adultStudent("s1")
	student.ResetBaselineDate = timePtr(resetAt)

	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": student}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "blue", PromotedAt: promotedAt}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 10}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	result, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)

	require.NotNil(t, result.BaselineDate)
	assert.True(t, result.BaselineDate.Equal(resetAt), "explicit reset wins over the promotion date")
	require.NotNil(t, attendance.lastSince["s1"])
	assert.True(t, attendance.lastSince["s1"].Equal(resetAt))
}

func TestEvaluateEligibilityPromotionDateBaseline(t *testing.T) {
	// The ledger records a full timestamp but sessions carry a bare date,
	// so the baseline must land on midnight of the promotion day.
	promotedAt := time.Date(2026, 1, 1, 19, 30, 0, 0, time.UTC)

	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "blue", PromotedAt: promotedAt}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 10}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	result, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)

	wantBaseline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, result.BaselineDate)
	assert.True(t, result.BaselineDate.Equal(wantBaseline), "a session dated the promotion day is included")
	require.NotNil(t, attendance.lastSince["s1"])
	assert.True(t, attendance.lastSince["s1"].Equal(wantBaseline))
}

func TestEvaluateEligibilityUnknownStudent(t *testing.T) {
	svc := newEngine(&mockStudentReader{}, &mockLedgerRepo{}, &mockRankRepo{ranks: adultLadder()}, &mockAttendanceCounter{}, nil)

	_, err := svc.EvaluateEligibility(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPromoteSucceedsAtExactThreshold(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 40}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	promotion, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "blue",
		ApprovedByInstructor: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "blue", promotion.RankID)
	assert.True(t, promotion.PromotedAt.Equal(evalDate))
	require.NotNil(t, promotion.ApprovedBy)
	assert.Equal(t, "inst-1", *promotion.ApprovedBy)
	require.Len(t, ledger.created, 1)
}

func TestPromoteRequiresApproval(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	svc := newEngine(students, &mockLedgerRepo{}, &mockRankRepo{ranks: adultLadder()}, &mockAttendanceCounter{}, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{RankID: "blue"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPromoteUnknownRank(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	svc := newEngine(students, &mockLedgerRepo{}, &mockRankRepo{ranks: adultLadder()}, &mockAttendanceCounter{}, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{RankID: "red", ApprovedByInstructor: true})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPromoteTrackMismatch(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"y1": youthStudent("y1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"y1": 100}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "y1", "inst-1", PromoteRequest{
		RankID:               "blue",
		ApprovedByInstructor: true,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrRuleViolation.Code, appErr.Code)
	assert.Equal(t, appErrors.ReasonTrackMismatch, appErr.Reason)
}

func TestPromoteSkipForbidden(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 200}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "purple",
		ApprovedByInstructor: true,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ReasonSkipForbidden, appErr.Reason)
	assert.Equal(t, 14, appErr.Details["current_order"])
	assert.Equal(t, 16, appErr.Details["target_order"])
}

func TestPromoteDemotionForbidden(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "blue", PromotedAt: evalDate.AddDate(-1, 0, 0)}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 200}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "white",
		ApprovedByInstructor: true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ReasonDemotionForbidden, appErrors.FromError(err).Reason)
}

func TestPromoteAgeBelowMinimum(t *testing.T) {
	student := adultStudent("s1")
	student.BirthDate = time.Date(2009, 3, 10, 0, 0, 0, 0, time.UTC) // 17 at evaluation

	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": student}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "brown", PromotedAt: evalDate.AddDate(-1, 0, 0)}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 200}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "black",
		ApprovedByInstructor: true,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ReasonAgeBelowMinimum, appErr.Reason)
	assert.Equal(t, 18, appErr.Details["minimum_age"])
	assert.Equal(t, 17, appErr.Details["student_age"])
}

func TestPromoteAttendanceInsufficient(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "blue", PromotedAt: evalDate.AddDate(-1, 0, 0)}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 44}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "purple",
		ApprovedByInstructor: true,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ReasonAttendanceInsufficient, appErr.Reason)
	assert.Equal(t, 44, appErr.Details["attended"])
	assert.Equal(t, 45, appErr.Details["required"])
}

func TestPromoteDefaultRequirement(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{}
	// No requirement rows at all, every transition falls back to the default.
	ranks := &mockRankRepo{ranks: adultLadder()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 30}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "blue",
		ApprovedByInstructor: true,
	})
	require.NoError(t, err)
}

func TestPromoteGrantsInstructorRole(t *testing.T) {
	student := adultStudent("s1")
	student.AccountID = strPtr("acct-1")

	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": student}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "blue", PromotedAt: evalDate.AddDate(-1, 0, 0)}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 45}}
	users := &mockUserRoles{}
	svc := newEngine(students, ledger, ranks, attendance, users)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "purple",
		ApprovedByInstructor: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, users.roles["acct-1"])
}

func TestPromoteRoleUpdateFailureKeepsLedger(t *testing.T) {
	student := adultStudent("s1")
	student.AccountID = strPtr("acct-1")

	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": student}}
	ledger := &mockLedgerRepo{entries: map[string][]models.Promotion{
		"s1": {{ID: "p1", StudentID: "s1", RankID: "blue", PromotedAt: evalDate.AddDate(-1, 0, 0)}},
	}}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 45}}
	users := &mockUserRoles{err: sql.ErrConnDone}
	svc := newEngine(students, ledger, ranks, attendance, users)

	promotion, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "purple",
		ApprovedByInstructor: true,
	})
	require.NoError(t, err, "the ledger entry stands when the role update fails")
	assert.Equal(t, "purple", promotion.RankID)
	require.Len(t, ledger.created, 1)
}

func TestPromoteConflictSurfaces(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{createErr: appErrors.Clone(appErrors.ErrConflict, "student rank changed during promotion")}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 40}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	_, err := svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "blue",
		ApprovedByInstructor: true,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestEvaluateEligibilityCachesResult(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 40}}
	cache := newMockCache()
	svc := newCachedEngine(students, ledger, ranks, attendance, cache)

	first, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 1, students.findCalls)
	require.Equal(t, 1, cache.setCalls)

	second, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, students.findCalls, "second evaluation is served from the cache")
	assert.Equal(t, first.Eligible, second.Eligible)
	assert.Equal(t, first.AttendedClasses, second.AttendedClasses)
	assert.Equal(t, first.NextRank.ID, second.NextRank.ID)
}

func TestPromoteInvalidatesEligibilityCache(t *testing.T) {
	students := &mockStudentReader{students: map[string]*models.StudentDetail{"s1": adultStudent("s1")}}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"s1": 40}}
	cache := newMockCache()
	svc := newCachedEngine(students, ledger, ranks, attendance, cache)

	_, err := svc.EvaluateEligibility(context.Background(), "s1")
	require.NoError(t, err)
	require.NotEmpty(t, cache.entries)

	_, err = svc.Promote(context.Background(), "s1", "inst-1", PromoteRequest{
		RankID:               "blue",
		ApprovedByInstructor: true,
	})
	require.NoError(t, err)

	assert.Contains(t, cache.deleted, "eligibility:*")
	assert.Empty(t, cache.entries, "stale verdicts must not survive a promotion")
}

func TestEvaluateRosterPreservesOrder(t *testing.T) {
	students := &mockStudentReader{
		students: map[string]*models.StudentDetail{
			"a": adultStudent("a"),
			"b": adultStudent("b"),
			"c": youthStudent("c"),
		},
		order: []string{"b", "c", "a"},
	}
	ledger := &mockLedgerRepo{}
	ranks := &mockRankRepo{ranks: adultLadder(), reqs: ladderRequirements()}
	attendance := &mockAttendanceCounter{counts: map[string]int{"a": 40, "b": 5, "c": 12}}
	svc := newEngine(students, ledger, ranks, attendance, nil)

	results, err := svc.EvaluateRoster(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].StudentID)
	assert.Equal(t, "c", results[1].StudentID)
	assert.Equal(t, "a", results[2].StudentID)
	assert.True(t, results[2].Eligible)
	assert.False(t, results[0].Eligible)
}
