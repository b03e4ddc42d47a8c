package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassGroupFilter) ([]models.ClassGroup, int, error)
	FindByID(ctx context.Context, id string) (*models.ClassGroup, error)
	Create(ctx context.Context, class *models.ClassGroup) error
	Update(ctx context.Context, class *models.ClassGroup) error
	Deactivate(ctx context.Context, id string) error
	CreateSession(ctx context.Context, session *models.ClassSession) error
	FindSessionByID(ctx context.Context, id string) (*models.ClassSession, error)
	ListSessions(ctx context.Context, classID string, from, to *time.Time) ([]models.ClassSession, error)
}

type classAttendanceRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Attendance, error)
	BulkMark(ctx context.Context, sessionID string, entries []models.AttendanceEntry, atomic bool) (*models.BulkAttendanceResult, error)
}

type classCache interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateClassRequest carries data for opening a class group.
type CreateClassRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=150"`
	Description string `json:"description" validate:"omitempty,max=500"`
	Schedule    string `json:"schedule" validate:"required,max=255"`
}

// UpdateClassRequest carries data for modifying a class group.
type UpdateClassRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=150"`
	Description string `json:"description" validate:"omitempty,max=500"`
	Schedule    string `json:"schedule" validate:"required,max=255"`
	Active      *bool  `json:"active"`
}

// CreateSessionRequest schedules a dated session for a class group.
type CreateSessionRequest struct {
	Date  string `json:"session_date" validate:"required,datetime=2006-01-02"`
	Notes string `json:"notes" validate:"omitempty,max=500"`
}

// BulkAttendanceRequest submits attendance rows for one session.
type BulkAttendanceRequest struct {
	Entries []models.AttendanceEntry `json:"entries" validate:"required,min=1,dive"`
	Atomic  bool                     `json:"atomic"`
}

// ClassService manages class groups, sessions, and attendance marking.
type ClassService struct {
	repo       classRepository
	attendance classAttendanceRepository
	cache      classCache
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(repo classRepository, attendance classAttendanceRepository, cache classCache, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, attendance: attendance, cache: cache, validator: validate, logger: logger}
}

// List returns class groups matching the filter.
func (s *ClassService) List(ctx context.Context, filter models.ClassGroupFilter) ([]models.ClassGroup, int, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list classes")
	}
	return classes, total, nil
}

// Get returns a single class group.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassGroup, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch class")
	}
	return class, nil
}

// Create opens a new class group.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.ClassGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	class := &models.ClassGroup{
		Name:        req.Name,
		Description: req.Description,
		Schedule:    req.Schedule,
		Active:      true,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create class")
	}
	return class, nil
}

// Update modifies a class group.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.ClassGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	class, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	class.Name = req.Name
	class.Description = req.Description
	class.Schedule = req.Schedule
	if req.Active != nil {
		class.Active = *req.Active
	}

	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to update class")
	}
	return class, nil
}

// Deactivate marks a class group inactive. Sessions and attendance remain.
func (s *ClassService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to deactivate class")
	}
	return nil
}

// CreateSession schedules a dated session for a class group.
func (s *ClassService) CreateSession(ctx context.Context, classID string, req CreateSessionRequest) (*models.ClassSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	if _, err := s.Get(ctx, classID); err != nil {
		return nil, err
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session_date must use YYYY-MM-DD")
	}

	session := &models.ClassSession{
		ClassID: classID,
		Date:    date,
		Notes:   req.Notes,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create session")
	}
	return session, nil
}

// ListSessions returns a class group's sessions within the optional window.
func (s *ClassService) ListSessions(ctx context.Context, classID string, from, to *time.Time) ([]models.ClassSession, error) {
	if _, err := s.Get(ctx, classID); err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx, classID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list sessions")
	}
	return sessions, nil
}

// SessionAttendance returns the attendance rows recorded for a session.
func (s *ClassService) SessionAttendance(ctx context.Context, sessionID string) ([]models.Attendance, error) {
	if _, err := s.repo.FindSessionByID(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch session")
	}
	rows, err := s.attendance.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list session attendance")
	}
	return rows, nil
}

// MarkAttendance records attendance rows for a session. In atomic mode any
// duplicate row aborts the whole submission, otherwise duplicates are
// reported as conflicts and the rest are kept.
func (s *ClassService) MarkAttendance(ctx context.Context, sessionID string, req BulkAttendanceRequest) (*models.BulkAttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	if _, err := s.repo.FindSessionByID(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch session")
	}

	seen := make(map[string]bool, len(req.Entries))
	for _, entry := range req.Entries {
		if seen[entry.StudentID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate student in attendance submission")
		}
		seen[entry.StudentID] = true
	}

	result, err := s.attendance.BulkMark(ctx, sessionID, req.Entries, req.Atomic)
	if err != nil {
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrConflict.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to mark attendance")
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "eligibility:*"); err != nil {
			s.logger.Warn("failed to invalidate eligibility cache", zap.Error(err))
		}
	}

	s.logger.Sugar().Infow("attendance marked", "session_id", sessionID, "marked", result.Marked, "conflicts", len(result.Conflicts))
	return result, nil
}
