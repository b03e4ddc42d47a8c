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

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
	SetResetBaseline(ctx context.Context, id string, baseline *time.Time) error
}

type studentAttendanceRepository interface {
	StudentSummary(ctx context.Context, studentID string, since *time.Time) (*models.AttendanceSummary, error)
}

type studentCache interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateStudentRequest carries data for registering a student.
type CreateStudentRequest struct {
	FullName  string  `json:"full_name" validate:"required,min=2,max=150"`
	Gender    string  `json:"gender" validate:"required,oneof=M F"`
	BirthDate string  `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Phone     string  `json:"phone" validate:"omitempty,min=6,max=20"`
	Email     string  `json:"email" validate:"omitempty,email"`
	Address   string  `json:"address" validate:"omitempty,max=255"`
	AccountID *string `json:"account_id" validate:"omitempty,uuid4"`
}

// UpdateStudentRequest carries data for modifying a student record.
type UpdateStudentRequest struct {
	FullName  string  `json:"full_name" validate:"required,min=2,max=150"`
	Gender    string  `json:"gender" validate:"required,oneof=M F"`
	BirthDate string  `json:"birth_date" validate:"required,datetime=2006-01-02"`
	Phone     string  `json:"phone" validate:"omitempty,min=6,max=20"`
	Email     string  `json:"email" validate:"omitempty,email"`
	Address   string  `json:"address" validate:"omitempty,max=255"`
	AccountID *string `json:"account_id" validate:"omitempty,uuid4"`
	Active    *bool   `json:"active"`
}

// ResetBaselineRequest stamps a new attendance counting baseline.
type ResetBaselineRequest struct {
	BaselineDate *string `json:"baseline_date" validate:"omitempty,datetime=2006-01-02"`
}

// StudentService manages student records.
type StudentService struct {
	repo       studentRepository
	attendance studentAttendanceRepository
	cache      studentCache
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewStudentService constructs a StudentService.
func NewStudentService(repo studentRepository, attendance studentAttendanceRepository, cache studentCache, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, attendance: attendance, cache: cache, validator: validate, logger: logger}
}

// List returns students matching the filter.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list students")
	}
	return students, total, nil
}

// Get returns a single student with belt context.
func (s *StudentService) Get(ctx context.Context, id string) (*models.StudentDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch student")
	}
	return detail, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	birthDate, err := time.Parse("2006-01-02", req.BirthDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "birth_date must use YYYY-MM-DD")
	}

	if req.Email != "" {
		exists, err := s.repo.ExistsByEmail(ctx, req.Email, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to check email")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a student with this email already exists")
		}
	}

	student := &models.Student{
		FullName:  req.FullName,
		Gender:    req.Gender,
		BirthDate: birthDate,
		Phone:     req.Phone,
		Email:     req.Email,
		Address:   req.Address,
		AccountID: req.AccountID,
		Active:    true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create student")
	}

	s.logger.Sugar().Infow("student registered", "student_id", student.ID)
	return student, nil
}

// Update modifies a student record.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	birthDate, err := time.Parse("2006-01-02", req.BirthDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "birth_date must use YYYY-MM-DD")
	}

	if req.Email != "" && req.Email != detail.Email {
		exists, err := s.repo.ExistsByEmail(ctx, req.Email, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to check email")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a student with this email already exists")
		}
	}

	student := detail.Student
	student.FullName = req.FullName
	student.Gender = req.Gender
	student.BirthDate = birthDate
	student.Phone = req.Phone
	student.Email = req.Email
	student.Address = req.Address
	student.AccountID = req.AccountID
	if req.Active != nil {
		student.Active = *req.Active
	}

	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to update student")
	}

	s.invalidateEligibility(ctx)
	return &student, nil
}

// Deactivate marks a student inactive. Historical records are preserved.
func (s *StudentService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to deactivate student")
	}
	s.invalidateEligibility(ctx)
	s.logger.Sugar().Infow("student deactivated", "student_id", id)
	return nil
}

// ResetBaseline stamps or clears the attendance counting baseline. A nil
// date resets to the student's promotion history.
func (s *StudentService) ResetBaseline(ctx context.Context, id string, req ResetBaselineRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid baseline payload")
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	var baseline *time.Time
	if req.BaselineDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.BaselineDate)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "baseline_date must use YYYY-MM-DD")
		}
		baseline = &parsed
	}

	if err := s.repo.SetResetBaseline(ctx, id, baseline); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to set attendance baseline")
	}

	s.invalidateEligibility(ctx)
	s.logger.Sugar().Infow("attendance baseline reset", "student_id", id)
	return nil
}

// AttendanceSummary returns present and absent counts for a student.
func (s *StudentService) AttendanceSummary(ctx context.Context, id string, since *time.Time) (*models.AttendanceSummary, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	summary, err := s.attendance.StudentSummary(ctx, id, since)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to summarise attendance")
	}
	return summary, nil
}

func (s *StudentService) invalidateEligibility(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "eligibility:*"); err != nil {
		s.logger.Warn("failed to invalidate eligibility cache", zap.Error(err))
	}
}
