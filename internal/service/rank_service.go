package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

const rankListCachePrefix = "ranks:list"

type rankRepository interface {
	List(ctx context.Context, filter models.RankFilter) ([]models.Rank, int, error)
	FindByID(ctx context.Context, id string) (*models.Rank, error)
	ExistsByOrder(ctx context.Context, order int, excludeID string) (bool, error)
	Create(ctx context.Context, rank *models.Rank) error
	Update(ctx context.Context, rank *models.Rank) error
	InUse(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	ListRequirements(ctx context.Context) ([]models.PromotionRequirement, error)
	FindRequirement(ctx context.Context, fromRankID, toRankID string) (*models.PromotionRequirement, error)
	UpsertRequirement(ctx context.Context, req *models.PromotionRequirement) error
}

type rankCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateRankRequest carries data for adding a rank to the ladder.
type CreateRankRequest struct {
	Name           string  `json:"name" validate:"required,min=2,max=100"`
	RankOrder      int     `json:"rank_order" validate:"required,min=1"`
	MinAge         *int    `json:"min_age" validate:"omitempty,min=0,max=120"`
	BadgeURL       *string `json:"badge_url" validate:"omitempty,url"`
	GrantsTeaching bool    `json:"grants_teaching"`
}

// UpdateRankRequest carries data for modifying an existing rank.
type UpdateRankRequest struct {
	Name           string  `json:"name" validate:"required,min=2,max=100"`
	RankOrder      int     `json:"rank_order" validate:"required,min=1"`
	MinAge         *int    `json:"min_age" validate:"omitempty,min=0,max=120"`
	BadgeURL       *string `json:"badge_url" validate:"omitempty,url"`
	GrantsTeaching bool    `json:"grants_teaching"`
}

// UpsertRequirementRequest sets the attendance threshold for a belt transition.
type UpsertRequirementRequest struct {
	FromRankID           string `json:"from_rank_id" validate:"required,uuid4"`
	ToRankID             string `json:"to_rank_id" validate:"required,uuid4"`
	RequiredClasses      int    `json:"required_classes" validate:"required,min=1"`
	YouthRequiredClasses *int   `json:"youth_required_classes" validate:"omitempty,min=1"`
}

type rankListPayload struct {
	Ranks []models.Rank `json:"ranks"`
	Total int           `json:"total"`
}

// RankService manages the belt ladder and transition requirements.
type RankService struct {
	repo      rankRepository
	cache     rankCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRankService constructs a RankService.
func NewRankService(repo rankRepository, cache rankCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *RankService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &RankService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns ranks matching the filter. Unfiltered first pages are served
// from Redis when possible.
func (s *RankService) List(ctx context.Context, filter models.RankFilter) ([]models.Rank, int, error) {
	cacheKey := ""
	if s.cache != nil && filter.Search == "" {
		track := "all"
		if filter.Track != nil {
			track = string(*filter.Track)
		}
		cacheKey = fmt.Sprintf("%s:%s:%d:%d", rankListCachePrefix, track, filter.Page, filter.PageSize)
		var cached rankListPayload
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached.Ranks, cached.Total, nil
		}
	}

	ranks, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list ranks")
	}

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, rankListPayload{Ranks: ranks, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache rank list", zap.Error(err))
		}
	}

	return ranks, total, nil
}

// Get returns a single rank by ID.
func (s *RankService) Get(ctx context.Context, id string) (*models.Rank, error) {
	rank, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rank not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch rank")
	}
	return rank, nil
}

// Create adds a rank to the ladder. Ladder positions are unique.
func (s *RankService) Create(ctx context.Context, req CreateRankRequest) (*models.Rank, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rank payload")
	}

	taken, err := s.repo.ExistsByOrder(ctx, req.RankOrder, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to check ladder position")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a rank already occupies this ladder position")
	}

	rank := &models.Rank{
		Name:           req.Name,
		RankOrder:      req.RankOrder,
		MinAge:         req.MinAge,
		BadgeURL:       req.BadgeURL,
		GrantsTeaching: req.GrantsTeaching,
	}
	if err := s.repo.Create(ctx, rank); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create rank")
	}

	s.invalidate(ctx)
	s.logger.Sugar().Infow("rank created", "rank_id", rank.ID, "order", rank.RankOrder)
	return rank, nil
}

// Update modifies an existing rank.
func (s *RankService) Update(ctx context.Context, id string, req UpdateRankRequest) (*models.Rank, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rank payload")
	}

	rank, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rank not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch rank")
	}

	if req.RankOrder != rank.RankOrder {
		taken, err := s.repo.ExistsByOrder(ctx, req.RankOrder, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to check ladder position")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a rank already occupies this ladder position")
		}
	}

	rank.Name = req.Name
	rank.RankOrder = req.RankOrder
	rank.MinAge = req.MinAge
	rank.BadgeURL = req.BadgeURL
	rank.GrantsTeaching = req.GrantsTeaching

	if err := s.repo.Update(ctx, rank); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to update rank")
	}

	s.invalidate(ctx)
	return rank, nil
}

// Delete removes a rank unless any promotion already references it.
func (s *RankService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	inUse, err := s.repo.InUse(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to check rank usage")
	}
	if inUse {
		return appErrors.Clone(appErrors.ErrConflict, "rank is referenced by promotion history")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to delete rank")
	}

	s.invalidate(ctx)
	s.logger.Sugar().Infow("rank deleted", "rank_id", id)
	return nil
}

// ListRequirements returns all configured transition thresholds.
func (s *RankService) ListRequirements(ctx context.Context) ([]models.PromotionRequirement, error) {
	reqs, err := s.repo.ListRequirements(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list promotion requirements")
	}
	return reqs, nil
}

// UpsertRequirement creates or replaces the threshold for a belt transition.
func (s *RankService) UpsertRequirement(ctx context.Context, req UpsertRequirementRequest) (*models.PromotionRequirement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid requirement payload")
	}
	if req.FromRankID == req.ToRankID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transition endpoints must differ")
	}

	for _, rankID := range []string{req.FromRankID, req.ToRankID} {
		if _, err := s.repo.FindByID(ctx, rankID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "rank not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch rank")
		}
	}

	requirement := &models.PromotionRequirement{
		FromRankID:           req.FromRankID,
		ToRankID:             req.ToRankID,
		RequiredClasses:      req.RequiredClasses,
		YouthRequiredClasses: req.YouthRequiredClasses,
	}
	if err := s.repo.UpsertRequirement(ctx, requirement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to save promotion requirement")
	}

	s.invalidate(ctx)
	return requirement, nil
}

func (s *RankService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	for _, pattern := range []string{rankListCachePrefix + ":*", "eligibility:*"} {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Warn("failed to invalidate cache", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}
