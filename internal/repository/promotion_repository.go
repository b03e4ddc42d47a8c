package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tatamihub/dojo-api/internal/models"
	appErrors "github.com/tatamihub/dojo-api/pkg/errors"
)

// PromotionRepository manages the append-only belt ledger.
type PromotionRepository struct {
	db *sqlx.DB
}

// NewPromotionRepository constructs a PromotionRepository.
func NewPromotionRepository(db *sqlx.DB) *PromotionRepository {
	return &PromotionRepository{db: db}
}

const promotionColumns = "id, student_id, rank_id, degree, promoted_at, approved_by, created_at"

// FindLatestByStudent returns the newest ledger entry for a student, or
// sql.ErrNoRows when the student was never promoted.
func (r *PromotionRepository) FindLatestByStudent(ctx context.Context, studentID string) (*models.Promotion, error) {
	query := fmt.Sprintf(`SELECT %s FROM promotions WHERE student_id = $1 ORDER BY promoted_at DESC, created_at DESC LIMIT 1`, promotionColumns)
	var p models.Promotion
	if err := r.db.GetContext(ctx, &p, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find latest promotion: %w", err)
	}
	return &p, nil
}

// ListByStudent returns a student's full promotion history, newest first.
func (r *PromotionRepository) ListByStudent(ctx context.Context, studentID string) ([]models.PromotionDetail, error) {
	const query = `SELECT p.id, p.student_id, p.rank_id, p.degree, p.promoted_at, p.approved_by, p.created_at, r.name AS rank_name, r.rank_order
        FROM promotions p JOIN ranks r ON r.id = p.rank_id
        WHERE p.student_id = $1 ORDER BY p.promoted_at DESC, p.created_at DESC`
	var history []models.PromotionDetail
	if err := r.db.SelectContext(ctx, &history, query, studentID); err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	return history, nil
}

// ListBetween returns ledger entries within the optional time window,
// oldest first, for report generation.
func (r *PromotionRepository) ListBetween(ctx context.Context, from, to *time.Time) ([]models.PromotionDetail, error) {
	query := `SELECT p.id, p.student_id, p.rank_id, p.degree, p.promoted_at, p.approved_by, p.created_at, r.name AS rank_name, r.rank_order
        FROM promotions p JOIN ranks r ON r.id = p.rank_id WHERE 1=1`
	var args []interface{}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND p.promoted_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND p.promoted_at <= $%d", len(args))
	}
	query += " ORDER BY p.promoted_at ASC, p.created_at ASC"

	var entries []models.PromotionDetail
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list promotions between: %w", err)
	}
	return entries, nil
}

// Create appends a ledger entry. The student row is locked for the duration
// of the transaction and the student's current rank is re-read under the
// lock: when it no longer matches expectedPriorRankID (nil meaning "never
// promoted") a concurrent promotion won the race and CONFLICT is returned.
func (r *PromotionRepository) Create(ctx context.Context, promotion *models.Promotion, expectedPriorRankID *string) error {
	if promotion.ID == "" {
		promotion.ID = uuid.NewString()
	}
	if promotion.CreatedAt.IsZero() {
		promotion.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promotion tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID string
	if err := tx.GetContext(ctx, &lockedID, `SELECT id FROM students WHERE id = $1 FOR UPDATE`, promotion.StudentID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock student: %w", err)
	}

	var priorRankID *string
	err = tx.GetContext(ctx, &priorRankID, `SELECT rank_id FROM promotions WHERE student_id = $1 ORDER BY promoted_at DESC, created_at DESC LIMIT 1`, promotion.StudentID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("recheck current rank: %w", err)
	}
	if !rankIDsEqual(priorRankID, expectedPriorRankID) {
		return appErrors.Clone(appErrors.ErrConflict, "student rank changed during promotion")
	}

	const insert = `INSERT INTO promotions (id, student_id, rank_id, degree, promoted_at, approved_by, created_at)
        VALUES (:id, :student_id, :rank_id, :degree, :promoted_at, :approved_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, promotion); err != nil {
		return fmt.Errorf("insert promotion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promotion: %w", err)
	}
	return nil
}

func rankIDsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
