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

// ClassRepository manages persistence for class groups and their sessions.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// List returns class groups matching the provided filters.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassGroupFilter) ([]models.ClassGroup, int, error) {
	baseQuery := `FROM class_groups WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
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
		"name":       true,
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

	listQuery := fmt.Sprintf("SELECT id, name, description, schedule, active, created_at, updated_at %s ORDER BY %s %s LIMIT %d OFFSET %d", baseQuery, sortBy, sortOrder, pageSize, offset)

	var classes []models.ClassGroup
	if err := r.db.SelectContext(ctx, &classes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}

	return classes, total, nil
}

// FindByID fetches a class group.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.ClassGroup, error) {
	const query = `SELECT id, name, description, schedule, active, created_at, updated_at FROM class_groups WHERE id = $1 LIMIT 1`
	var class models.ClassGroup
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class by id: %w", err)
	}
	return &class, nil
}

// Create inserts a new class group.
func (r *ClassRepository) Create(ctx context.Context, class *models.ClassGroup) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if class.CreatedAt.IsZero() {
		class.CreatedAt = now
	}
	class.UpdatedAt = now
	const query = `INSERT INTO class_groups (id, name, description, schedule, active, created_at, updated_at)
        VALUES (:id, :name, :description, :schedule, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update modifies an existing class group.
func (r *ClassRepository) Update(ctx context.Context, class *models.ClassGroup) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `UPDATE class_groups SET name = :name, description = :description, schedule = :schedule, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return nil
}

// Deactivate marks a class group inactive.
func (r *ClassRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE class_groups SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate class: %w", err)
	}
	return nil
}

// CreateSession inserts a dated session for a class group.
func (r *ClassRepository) CreateSession(ctx context.Context, session *models.ClassSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO class_sessions (id, class_id, session_date, notes, created_at)
        VALUES (:id, :class_id, :session_date, :notes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindSessionByID fetches a single session.
func (r *ClassRepository) FindSessionByID(ctx context.Context, id string) (*models.ClassSession, error) {
	const query = `SELECT id, class_id, session_date, notes, created_at FROM class_sessions WHERE id = $1 LIMIT 1`
	var session models.ClassSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// ListSessions returns a class group's sessions within the optional window.
func (r *ClassRepository) ListSessions(ctx context.Context, classID string, from, to *time.Time) ([]models.ClassSession, error) {
	query := `SELECT id, class_id, session_date, notes, created_at FROM class_sessions WHERE class_id = $1`
	args := []interface{}{classID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND session_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND session_date <= $%d", len(args))
	}
	query += " ORDER BY session_date DESC"

	var sessions []models.ClassSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
