package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

type guardianRepository interface {
	List(ctx context.Context, filter models.GuardianFilter) ([]models.Guardian, int, error)
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
	Create(ctx context.Context, guardian *models.Guardian) error
	Update(ctx context.Context, guardian *models.Guardian) error
	Delete(ctx context.Context, id string) error
	ListByStudent(ctx context.Context, studentID string) ([]models.Guardian, error)
	Attach(ctx context.Context, studentID, guardianID string) error
	Detach(ctx context.Context, studentID, guardianID string) error
}

type guardianStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
}

// CreateGuardianRequest carries data for registering a guardian.
type CreateGuardianRequest struct {
	FullName     string `json:"full_name" validate:"required,min=2,max=150"`
	Phone        string `json:"phone" validate:"required,min=6,max=20"`
	Email        string `json:"email" validate:"omitempty,email"`
	Relationship string `json:"relationship" validate:"required,oneof=FATHER MOTHER GUARDIAN OTHER"`
}

// UpdateGuardianRequest carries data for modifying a guardian.
type UpdateGuardianRequest struct {
	FullName     string `json:"full_name" validate:"required,min=2,max=150"`
	Phone        string `json:"phone" validate:"required,min=6,max=20"`
	Email        string `json:"email" validate:"omitempty,email"`
	Relationship string `json:"relationship" validate:"required,oneof=FATHER MOTHER GUARDIAN OTHER"`
}

// GuardianService manages guardians and their links to students.
type GuardianService struct {
	repo      guardianRepository
	students  guardianStudentRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGuardianService constructs a GuardianService.
func NewGuardianService(repo guardianRepository, students guardianStudentRepository, validate *validator.Validate, logger *zap.Logger) *GuardianService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardianService{repo: repo, students: students, validator: validate, logger: logger}
}

// List returns guardians matching the filter.
func (s *GuardianService) List(ctx context.Context, filter models.GuardianFilter) ([]models.Guardian, int, error) {
	guardians, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list guardians")
	}
	return guardians, total, nil
}

// Get returns a single guardian.
func (s *GuardianService) Get(ctx context.Context, id string) (*models.Guardian, error) {
	guardian, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "guardian not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch guardian")
	}
	return guardian, nil
}

// Create registers a new guardian.
func (s *GuardianService) Create(ctx context.Context, req CreateGuardianRequest) (*models.Guardian, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid guardian payload")
	}

	guardian := &models.Guardian{
		FullName:     req.FullName,
		Phone:        req.Phone,
		Email:        req.Email,
		Relationship: req.Relationship,
	}
	if err := s.repo.Create(ctx, guardian); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to create guardian")
	}
	return guardian, nil
}

// Update modifies a guardian.
func (s *GuardianService) Update(ctx context.Context, id string, req UpdateGuardianRequest) (*models.Guardian, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid guardian payload")
	}

	guardian, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	guardian.FullName = req.FullName
	guardian.Phone = req.Phone
	guardian.Email = req.Email
	guardian.Relationship = req.Relationship

	if err := s.repo.Update(ctx, guardian); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to update guardian")
	}
	return guardian, nil
}

// Delete removes a guardian together with any student links.
func (s *GuardianService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to delete guardian")
	}
	s.logger.Sugar().Infow("guardian deleted", "guardian_id", id)
	return nil
}

// ListByStudent returns the guardians linked to a student.
func (s *GuardianService) ListByStudent(ctx context.Context, studentID string) ([]models.Guardian, error) {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return nil, err
	}
	guardians, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to list student guardians")
	}
	return guardians, nil
}

// Attach links a guardian to a student.
func (s *GuardianService) Attach(ctx context.Context, studentID, guardianID string) error {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return err
	}
	if _, err := s.Get(ctx, guardianID); err != nil {
		return err
	}
	if err := s.repo.Attach(ctx, studentID, guardianID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to attach guardian")
	}
	return nil
}

// Detach removes the link between a guardian and a student.
func (s *GuardianService) Detach(ctx context.Context, studentID, guardianID string) error {
	if err := s.ensureStudent(ctx, studentID); err != nil {
		return err
	}
	if err := s.repo.Detach(ctx, studentID, guardianID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to detach guardian")
	}
	return nil
}

func (s *GuardianService) ensureStudent(ctx context.Context, studentID string) error {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to fetch student")
	}
	return nil
}
