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

const rankColumns = "id, name, rank_order, min_age, badge_url, grants_teaching, created_at, updated_at"

// RankRepository manages persistence for the belt ladder and its transition
// requirements.
type RankRepository struct {
	db *sqlx.DB
}

// NewRankRepository constructs a RankRepository.
func NewRankRepository(db *sqlx.DB) *RankRepository {
	return &RankRepository{db: db}
}

// List returns ranks matching the provided filters ordered by rank_order.
func (r *RankRepository) List(ctx context.Context, filter models.RankFilter) ([]models.Rank, int, error) {
	baseQuery := `FROM ranks WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Track != nil {
		if *filter.Track == models.TrackYouth {
			conditions = append(conditions, fmt.Sprintf("rank_order <= $%d", len(args)+1))
		} else {
			conditions = append(conditions, fmt.Sprintf("rank_order > $%d", len(args)+1))
		}
		args = append(args, models.YouthTrackMaxOrder)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY rank_order ASC LIMIT %d OFFSET %d", rankColumns, baseQuery, pageSize, offset)

	var ranks []models.Rank
	if err := r.db.SelectContext(ctx, &ranks, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list ranks: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count ranks: %w", err)
	}

	return ranks, total, nil
}

// FindByID fetches a single rank.
func (r *RankRepository) FindByID(ctx context.Context, id string) (*models.Rank, error) {
	query := fmt.Sprintf("SELECT %s FROM ranks WHERE id = $1 LIMIT 1", rankColumns)
	var rank models.Rank
	if err := r.db.GetContext(ctx, &rank, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find rank by id: %w", err)
	}
	return &rank, nil
}

// FindByOrder fetches the rank holding a given ladder position.
func (r *RankRepository) FindByOrder(ctx context.Context, order int) (*models.Rank, error) {
	query := fmt.Sprintf("SELECT %s FROM ranks WHERE rank_order = $1 LIMIT 1", rankColumns)
	var rank models.Rank
	if err := r.db.GetContext(ctx, &rank, query, order); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find rank by order: %w", err)
	}
	return &rank, nil
}

// FindBase returns the lowest-order rank of the given track. New students
// without a ledger entry hold this rank implicitly.
func (r *RankRepository) FindBase(ctx context.Context, track models.RankTrack) (*models.Rank, error) {
	comparator := "<="
	if track == models.TrackAdult {
		comparator = ">"
	}
	query := fmt.Sprintf("SELECT %s FROM ranks WHERE rank_order %s $1 ORDER BY rank_order ASC LIMIT 1", rankColumns, comparator)
	var rank models.Rank
	if err := r.db.GetContext(ctx, &rank, query, models.YouthTrackMaxOrder); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find base rank: %w", err)
	}
	return &rank, nil
}

// ExistsByOrder checks whether a rank already occupies the given ladder
// position, optionally excluding an ID.
func (r *RankRepository) ExistsByOrder(ctx context.Context, order int, excludeID string) (bool, error) {
	query := "SELECT 1 FROM ranks WHERE rank_order = $1"
	args := []interface{}{order}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check rank order: %w", err)
	}
	return true, nil
}

// Create inserts a new rank.
func (r *RankRepository) Create(ctx context.Context, rank *models.Rank) error {
	if rank.ID == "" {
		rank.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rank.CreatedAt.IsZero() {
		rank.CreatedAt = now
	}
	rank.UpdatedAt = now
	const query = `INSERT INTO ranks (id, name, rank_order, min_age, badge_url, grants_teaching, created_at, updated_at)
        VALUES (:id, :name, :rank_order, :min_age, :badge_url, :grants_teaching, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rank); err != nil {
		return fmt.Errorf("create rank: %w", err)
	}
	return nil
}

// Update modifies an existing rank.
func (r *RankRepository) Update(ctx context.Context, rank *models.Rank) error {
	rank.UpdatedAt = time.Now().UTC()
	const query = `UPDATE ranks SET name = :name, rank_order = :rank_order, min_age = :min_age, badge_url = :badge_url, grants_teaching = :grants_teaching, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, rank); err != nil {
		return fmt.Errorf("update rank: %w", err)
	}
	return nil
}

// InUse reports whether any promotion references the rank.
func (r *RankRepository) InUse(ctx context.Context, id string) (bool, error) {
	const query = `SELECT 1 FROM promotions WHERE rank_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check rank usage: %w", err)
	}
	return true, nil
}

// Delete removes a rank. Callers must verify the rank is not in use first.
func (r *RankRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM ranks WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete rank: %w", err)
	}
	return nil
}

// ListRequirements returns all transition requirements.
func (r *RankRepository) ListRequirements(ctx context.Context) ([]models.PromotionRequirement, error) {
	const query = `SELECT id, from_rank_id, to_rank_id, required_classes, youth_required_classes, created_at, updated_at FROM promotion_requirements ORDER BY created_at ASC`
	var reqs []models.PromotionRequirement
	if err := r.db.SelectContext(ctx, &reqs, query); err != nil {
		return nil, fmt.Errorf("list promotion requirements: %w", err)
	}
	return reqs, nil
}

// FindRequirement returns the transition requirement for a rank pair.
func (r *RankRepository) FindRequirement(ctx context.Context, fromRankID, toRankID string) (*models.PromotionRequirement, error) {
	const query = `SELECT id, from_rank_id, to_rank_id, required_classes, youth_required_classes, created_at, updated_at FROM promotion_requirements WHERE from_rank_id = $1 AND to_rank_id = $2 LIMIT 1`
	var req models.PromotionRequirement
	if err := r.db.GetContext(ctx, &req, query, fromRankID, toRankID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find promotion requirement: %w", err)
	}
	return &req, nil
}

// UpsertRequirement creates or replaces the requirement for a rank pair.
func (r *RankRepository) UpsertRequirement(ctx context.Context, req *models.PromotionRequirement) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	const query = `INSERT INTO promotion_requirements (id, from_rank_id, to_rank_id, required_classes, youth_required_classes, created_at, updated_at)
        VALUES (:id, :from_rank_id, :to_rank_id, :required_classes, :youth_required_classes, :created_at, :updated_at)
        ON CONFLICT (from_rank_id, to_rank_id) DO UPDATE SET required_classes = EXCLUDED.required_classes, youth_required_classes = EXCLUDED.youth_required_classes, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("upsert promotion requirement: %w", err)
	}
	return nil
}
