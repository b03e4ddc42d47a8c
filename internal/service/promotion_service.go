package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type promotionStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

type promotionLedgerRepository interface {
	FindLatestByStudent(ctx context.Context, studentID string) (*models.Promotion, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.PromotionDetail, error)
	Create(ctx context.Context, promotion *models.Promotion, expectedPriorRankID *string) error
}

type promotionRankRepository interface {
	FindByID(ctx context.Context, id string) (*models.Rank, error)
	FindByOrder(ctx context.Context, order int) (*models.Rank, error)
	FindBase(ctx context.Context, track models.RankTrack) (*models.Rank, error)
	FindRequirement(ctx context.Context, fromRankID, toRankID string) (*models.PromotionRequirement, error)
}

type promotionAttendanceRepository interface {
	CountPresentSince(ctx context.Context, studentID string, since *time.Time) (int, error)
}

type promotionUserRepository interface {
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
}

type promotionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const eligibilityCachePrefix = "eligibility"

// PromoteRequest carries the payload for awarding a belt.
type PromoteRequest struct {
	RankID               string `json:"rank_id" validate:"required"`
	Degree               int    `json:"degree" validate:"min=0"`
	ApprovedByInstructor bool   `json:"approved_by_instructor"`
}

// PromotionService implements belt eligibility evaluation and promotion.
type PromotionService struct {
	students   promotionStudentRepository
	ledger     promotionLedgerRepository
	ranks      promotionRankRepository
	attendance promotionAttendanceRepository
	users      promotionUserRepository
	cache      promotionCache

	defaultRequired   int
	rosterConcurrency int
	cacheTTL          time.Duration

	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPromotionService constructs the promotion engine. A nil clock defaults
// to time.Now so tests can pin evaluation time.
func NewPromotionService(
	students promotionStudentRepository,
	ledger promotionLedgerRepository,
	ranks promotionRankRepository,
	attendance promotionAttendanceRepository,
	users promotionUserRepository,
	cache promotionCache,
	defaultRequired int,
	rosterConcurrency int,
	cacheTTL time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
	clock func() time.Time,
) *PromotionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if defaultRequired <= 0 {
		defaultRequired = 30
	}
	if rosterConcurrency <= 0 {
		rosterConcurrency = 8
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &PromotionService{
		students:          students,
		ledger:            ledger,
		ranks:             ranks,
		attendance:        attendance,
		users:             users,
		cache:             cache,
		defaultRequired:   defaultRequired,
		rosterConcurrency: rosterConcurrency,
		cacheTTL:          cacheTTL,
		validator:         validate,
		logger:            logger,
		now:               clock,
	}
}

// standing captures a student's position on the ladder at evaluation time.
type standing struct {
	student      *models.StudentDetail
	age          int
	track        models.RankTrack
	currentRank  *models.Rank
	latestEntry  *models.Promotion
	baselineDate *time.Time
}

func (s *PromotionService) loadStanding(ctx context.Context, studentID string) (*standing, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load student")
	}

	now := s.now()
	age := student.AgeAt(now)
	track := models.TrackForAge(age)

	st := &standing{student: student, age: age, track: track}

	latest, err := s.ledger.FindLatestByStudent(ctx, studentID)
	switch {
	case err == sql.ErrNoRows:
		base, baseErr := s.ranks.FindBase(ctx, track)
		if baseErr != nil {
			return nil, appErrors.Wrap(baseErr, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to resolve base rank")
		}
		st.currentRank = base
	case err != nil:
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load promotion history")
	default:
		st.latestEntry = latest
		rank, rankErr := s.ranks.FindByID(ctx, latest.RankID)
		if rankErr != nil {
			return nil, appErrors.Wrap(rankErr, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to resolve current rank")
		}
		st.currentRank = rank
	}

	// Baseline precedence: explicit reset wins over the promotion date.
	// Sessions carry a bare date, so the promotion timestamp is truncated
	// to its UTC day; a session held on the promotion day still counts.
	if student.ResetBaselineDate != nil {
		st.baselineDate = student.ResetBaselineDate
	} else if st.latestEntry != nil {
		t := st.latestEntry.PromotedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		st.baselineDate = &day
	}

	return st, nil
}

// nextRank resolves the rank one step up the ladder within the student's
// track. A nil result with a nil error means progression stops here.
func (s *PromotionService) nextRank(ctx context.Context, st *standing) (*models.Rank, error) {
	next, err := s.ranks.FindByOrder(ctx, st.currentRank.RankOrder+1)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to resolve next rank")
	}
	if next.Track() != st.track {
		return nil, nil
	}
	return next, nil
}

func (s *PromotionService) requiredClasses(ctx context.Context, fromRankID, toRankID string, track models.RankTrack) (int, error) {
	req, err := s.ranks.FindRequirement(ctx, fromRankID, toRankID)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.defaultRequired, nil
		}
		return 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load promotion requirement")
	}
	return req.RequiredFor(track), nil
}

// EvaluateEligibility reports whether a student can advance to the next rank
// on their ladder, with the attendance numbers behind the verdict.
func (s *PromotionService) EvaluateEligibility(ctx context.Context, studentID string) (*models.EligibilityResult, error) {
	cacheKey := eligibilityCachePrefix + ":" + studentID
	if s.cache != nil {
		var cached models.EligibilityResult
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	st, err := s.loadStanding(ctx, studentID)
	if err != nil {
		return nil, err
	}

	result := &models.EligibilityResult{
		StudentID:    st.student.ID,
		StudentName:  st.student.FullName,
		Track:        st.track,
		CurrentRank:  *st.currentRank,
		BaselineDate: st.baselineDate,
	}

	next, err := s.nextRank(ctx, st)
	if err != nil {
		return nil, err
	}
	if next == nil {
		s.storeEligibility(ctx, cacheKey, result)
		return result, nil
	}
	result.NextRank = next
	result.NextApplicable = true

	required, err := s.requiredClasses(ctx, st.currentRank.ID, next.ID, st.track)
	if err != nil {
		return nil, err
	}
	attended, err := s.attendance.CountPresentSince(ctx, studentID, st.baselineDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to count attendance")
	}

	result.RequiredClasses = required
	result.AttendedClasses = attended
	result.Eligible = attended >= required
	s.storeEligibility(ctx, cacheKey, result)
	return result, nil
}

func (s *PromotionService) storeEligibility(ctx context.Context, key string, result *models.EligibilityResult) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
		s.logger.Sugar().Warnw("failed to cache eligibility", "key", key, "error", err)
	}
}

// EvaluateRoster evaluates every active student concurrently, preserving
// roster order in the output.
func (s *PromotionService) EvaluateRoster(ctx context.Context) ([]models.EligibilityResult, error) {
	ids, err := s.students.ListActiveIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list students")
	}

	results := make([]models.EligibilityResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.rosterConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			res, err := s.EvaluateEligibility(gctx, id)
			if err != nil {
				return fmt.Errorf("evaluate student %s: %w", id, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// History returns a student's promotion ledger, newest first.
func (s *PromotionService) History(ctx context.Context, studentID string) ([]models.PromotionDetail, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load student")
	}
	history, err := s.ledger.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load promotion history")
	}
	return history, nil
}

// Promote validates the rule chain and appends a ledger entry. Checks run in
// a fixed order so the first failing rule determines the reported reason.
func (s *PromotionService) Promote(ctx context.Context, studentID, actorID string, req PromoteRequest) (*models.Promotion, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promotion payload")
	}
	if !req.ApprovedByInstructor {
		return nil, appErrors.Clone(appErrors.ErrValidation, "promotion requires instructor approval")
	}

	st, err := s.loadStanding(ctx, studentID)
	if err != nil {
		return nil, err
	}

	target, err := s.ranks.FindByID(ctx, req.RankID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "rank not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to load rank")
	}

	if target.Track() != st.track {
		msg := "target rank belongs to the adult ladder, student trains on the youth ladder"
		if st.track == models.TrackAdult {
			msg = "target rank belongs to the youth ladder, student trains on the adult ladder"
		}
		return nil, appErrors.RuleViolation(appErrors.ReasonTrackMismatch, msg, map[string]interface{}{
			"student_track": st.track,
			"rank_track":    target.Track(),
		})
	}

	if target.RankOrder > st.currentRank.RankOrder+1 {
		return nil, appErrors.RuleViolation(appErrors.ReasonSkipForbidden, "ranks cannot be skipped", map[string]interface{}{
			"current_order": st.currentRank.RankOrder,
			"target_order":  target.RankOrder,
		})
	}

	if target.RankOrder < st.currentRank.RankOrder {
		return nil, appErrors.RuleViolation(appErrors.ReasonDemotionForbidden, "demotions are not allowed", map[string]interface{}{
			"current_order": st.currentRank.RankOrder,
			"target_order":  target.RankOrder,
		})
	}

	if target.MinAge != nil && st.age < *target.MinAge {
		return nil, appErrors.RuleViolation(appErrors.ReasonAgeBelowMinimum,
			fmt.Sprintf("rank requires a minimum age of %d", *target.MinAge),
			map[string]interface{}{
				"minimum_age": *target.MinAge,
				"student_age": st.age,
			})
	}

	required, err := s.requiredClasses(ctx, st.currentRank.ID, target.ID, st.track)
	if err != nil {
		return nil, err
	}
	attended, err := s.attendance.CountPresentSince(ctx, studentID, st.baselineDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to count attendance")
	}
	if attended < required {
		return nil, appErrors.RuleViolation(appErrors.ReasonAttendanceInsufficient,
			fmt.Sprintf("student attended %d of %d required classes", attended, required),
			map[string]interface{}{
				"attended": attended,
				"required": required,
			})
	}

	promotion := &models.Promotion{
		StudentID:  studentID,
		RankID:     target.ID,
		Degree:     req.Degree,
		PromotedAt: s.now().UTC(),
	}
	if actorID != "" {
		promotion.ApprovedBy = &actorID
	}

	var expectedPrior *string
	if st.latestEntry != nil {
		expectedPrior = &st.latestEntry.RankID
	}
	if err := s.ledger.Create(ctx, promotion, expectedPrior); err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to record promotion")
	}

	s.grantTeachingRole(ctx, st.student, target)
	s.invalidateCaches(ctx, studentID)

	s.logger.Sugar().Infow("student promoted",
		"student_id", studentID,
		"rank_id", target.ID,
		"rank_order", target.RankOrder,
		"degree", req.Degree,
		"approved_by", actorID,
	)
	return promotion, nil
}

// grantTeachingRole upgrades the linked account when the awarded belt carries
// teaching privileges. The ledger entry stands even if the role update fails.
func (s *PromotionService) grantTeachingRole(ctx context.Context, student *models.StudentDetail, rank *models.Rank) {
	if !rank.GrantsTeaching || student.AccountID == nil || s.users == nil {
		return
	}
	if err := s.users.UpdateRole(ctx, *student.AccountID, models.RoleInstructor); err != nil {
		s.logger.Sugar().Warnw("failed to grant instructor role",
			"student_id", student.ID,
			"account_id", *student.AccountID,
			"error", err,
		)
	}
}

func (s *PromotionService) invalidateCaches(ctx context.Context, studentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, eligibilityCachePrefix+":*"); err != nil {
		s.logger.Sugar().Warnw("failed to invalidate eligibility cache", "student_id", studentID, "error", err)
	}
}
