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

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// latestPromotionJoin picks the newest ledger entry per student. Ties on
// promoted_at break on created_at so the join stays single-row.
const latestPromotionJoin = `LEFT JOIN LATERAL (
        SELECT p.rank_id, p.degree, p.promoted_at FROM promotions p
        WHERE p.student_id = s.id
        ORDER BY p.promoted_at DESC, p.created_at DESC LIMIT 1
    ) lp ON TRUE
    LEFT JOIN ranks r ON r.id = lp.rank_id`

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s " + latestPromotionJoin
	var args []interface{}
	conditions := []string{"1=1"}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM attendance a JOIN class_sessions cs ON cs.id = a.session_id WHERE a.student_id = s.id AND cs.class_id = $%d)", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("s.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.full_name) LIKE $%d OR LOWER(s.email) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"full_name":  "s.full_name",
		"birth_date": "s.birth_date",
		"created_at": "s.created_at",
	}
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "s.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.full_name, s.gender, s.birth_date, s.phone, s.email, s.address, s.account_id, s.reset_baseline_date, s.active, s.created_at, s.updated_at,
        lp.rank_id AS current_rank_id, r.name AS current_rank_name, lp.degree AS current_degree, lp.promoted_at AS last_promoted_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT s.id) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := `SELECT s.id, s.full_name, s.gender, s.birth_date, s.phone, s.email, s.address, s.account_id, s.reset_baseline_date, s.active, s.created_at, s.updated_at,
        lp.rank_id AS current_rank_id, r.name AS current_rank_name, lp.degree AS current_degree, lp.promoted_at AS last_promoted_at
        FROM students s ` + latestPromotionJoin + `
        WHERE s.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListActiveIDs returns the IDs of all active students ordered by name.
// Used for roster-wide eligibility evaluation.
func (r *StudentRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM students WHERE active = TRUE ORDER BY full_name ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return ids, nil
}

// ExistsByEmail checks if a student with given email exists optionally excluding an ID.
func (r *StudentRepository) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE email = $1"
	args := []interface{}{email}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student email: %w", err)
	}
	return true, nil
}

// Create inserts a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, full_name, gender, birth_date, phone, email, address, account_id, reset_baseline_date, active, created_at, updated_at)
        VALUES (:id, :full_name, :gender, :birth_date, :phone, :email, :address, :account_id, :reset_baseline_date, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies an existing student.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, gender = :gender, birth_date = :birth_date, phone = :phone, email = :email, address = :address, account_id = :account_id, reset_baseline_date = :reset_baseline_date, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Deactivate marks a student as inactive.
func (r *StudentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE students SET active = false, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate student: %w", err)
	}
	return nil
}

// SetResetBaseline stamps (or clears) the attendance counting baseline.
func (r *StudentRepository) SetResetBaseline(ctx context.Context, id string, baseline *time.Time) error {
	const query = `UPDATE students SET reset_baseline_date = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, baseline, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reset baseline: %w", err)
	}
	return nil
}
