package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tatamihub/dojo-api/internal/models"
)

// GuardianRepository manages persistence for guardians and their student links.
type GuardianRepository struct {
	db *sqlx.DB
}

// NewGuardianRepository constructs a GuardianRepository.
func NewGuardianRepository(db *sqlx.DB) *GuardianRepository {
	return &GuardianRepository{db: db}
}

// List returns guardians matching the provided filters.
func (r *GuardianRepository) List(ctx context.Context, filter models.GuardianFilter) ([]models.Guardian, int, error) {
	baseQuery := `FROM guardians WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(email) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]bool{
		"full_name":  true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, full_name, phone, email, relationship, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var guardians []models.Guardian
	if err := r.db.SelectContext(ctx, &guardians, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list guardians: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count guardians: %w", err)
	}

	return guardians, total, nil
}

// FindByID fetches a guardian.
func (r *GuardianRepository) FindByID(ctx context.Context, id string) (*models.Guardian, error) {
	const query = `SELECT id, full_name, phone, email, relationship, created_at, updated_at FROM guardians WHERE id = $1 LIMIT 1`
	var guardian models.Guardian
	if err := r.db.GetContext(ctx, &guardian, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find guardian by id: %w", err)
	}
	return &guardian, nil
}

// Create inserts a new guardian.
func (r *GuardianRepository) Create(ctx context.Context, guardian *models.Guardian) error {
	if guardian.ID == "" {
		guardian.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if guardian.CreatedAt.IsZero() {
		guardian.CreatedAt = now
	}
	guardian.UpdatedAt = now
	const query = `INSERT INTO guardians (id, full_name, phone, email, relationship, created_at, updated_at)
        VALUES (:id, :full_name, :phone, :email, :relationship, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, guardian); err != nil {
		return fmt.Errorf("create guardian: %w", err)
	}
	return nil
}

// Update modifies an existing guardian.
func (r *GuardianRepository) Update(ctx context.Context, guardian *models.Guardian) error {
	guardian.UpdatedAt = time.Now().UTC()
	const query = `UPDATE guardians SET full_name = :full_name, phone = :phone, email = :email, relationship = :relationship, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, guardian); err != nil {
		return fmt.Errorf("update guardian: %w", err)
	}
	return nil
}

// Delete removes a guardian and their student links.
func (r *GuardianRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete guardian: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM student_guardians WHERE guardian_id = $1`, id); err != nil {
		return fmt.Errorf("delete guardian links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guardians WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete guardian: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete guardian: %w", err)
	}
	return nil
}

// ListByStudent returns the guardians linked to a student.
func (r *GuardianRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Guardian, error) {
	const query = `SELECT g.id, g.full_name, g.phone, g.email, g.relationship, g.created_at, g.updated_at
        FROM guardians g JOIN student_guardians sg ON sg.guardian_id = g.id
        WHERE sg.student_id = $1 ORDER BY g.full_name ASC`
	var guardians []models.Guardian
	if err := r.db.SelectContext(ctx, &guardians, query, studentID); err != nil {
		return nil, fmt.Errorf("list student guardians: %w", err)
	}
	return guardians, nil
}

// Attach links a guardian to a student. Duplicate links are ignored.
func (r *GuardianRepository) Attach(ctx context.Context, studentID, guardianID string) error {
	const query = `INSERT INTO student_guardians (student_id, guardian_id, created_at)
        VALUES ($1, $2, $3) ON CONFLICT (student_id, guardian_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, studentID, guardianID, time.Now().UTC()); err != nil {
		return fmt.Errorf("attach guardian: %w", err)
	}
	return nil
}

// Detach removes the link between a guardian and a student.
func (r *GuardianRepository) Detach(ctx context.Context, studentID, guardianID string) error {
	const query = `DELETE FROM student_guardians WHERE student_id = $1 AND guardian_id = $2`
	if _, err := r.db.ExecContext(ctx, query, studentID, guardianID); err != nil {
		return fmt.Errorf("detach guardian: %w", err)
	}
	return nil
}
