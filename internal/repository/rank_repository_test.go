package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatamihub/dojo-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestFindRankByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRankRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "rank_order", "min_age", "badge_url", "grants_teaching", "created_at", "updated_at"}).
		AddRow("r1", "White Belt", 14, nil, nil, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, rank_order, min_age, badge_url, grants_teaching, created_at, updated_at FROM ranks WHERE id = $1 LIMIT 1")).
		WithArgs("r1").
		WillReturnRows(rows)

	rank, err := repo.FindByID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "White Belt", rank.Name)
	assert.Equal(t, models.TrackAdult, rank.Track())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBaseRankYouth(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRankRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "rank_order", "min_age", "badge_url", "grants_teaching", "created_at", "updated_at"}).
		AddRow("r1", "White Belt Junior", 1, nil, nil, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, rank_order, min_age, badge_url, grants_teaching, created_at, updated_at FROM ranks WHERE rank_order <= $1 ORDER BY rank_order ASC LIMIT 1")).
		WithArgs(models.YouthTrackMaxOrder).
		WillReturnRows(rows)

	rank, err := repo.FindBase(context.Background(), models.TrackYouth)
	require.NoError(t, err)
	assert.Equal(t, 1, rank.RankOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRanks(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRankRepository(db)

	now := time.Now()
	listRows := sqlmock.NewRows([]string{"id", "name", "rank_order", "min_age", "badge_url", "grants_teaching", "created_at", "updated_at"}).
		AddRow("r1", "White Belt", 14, nil, nil, false, now, now).
		AddRow("r2", "Blue Belt", 15, nil, nil, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, rank_order, min_age, badge_url, grants_teaching, created_at, updated_at FROM ranks WHERE 1=1 ORDER BY rank_order ASC LIMIT 50 OFFSET 0")).
		WillReturnRows(listRows)

	countRows := sqlmock.NewRows([]string{"count"}).AddRow(2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM ranks WHERE 1=1")).WillReturnRows(countRows)

	ranks, total, err := repo.List(context.Background(), models.RankFilter{})
	require.NoError(t, err)
	assert.Len(t, ranks, 2)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRankInUse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRankRepository(db)

	rows := sqlmock.NewRows([]string{"1"}).AddRow(1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM promotions WHERE rank_id = $1 LIMIT 1")).
		WithArgs("r1").
		WillReturnRows(rows)

	used, err := repo.InUse(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, used)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequirement(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRankRepository(db)

	mock.ExpectExec("INSERT INTO promotion_requirements").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertRequirement(context.Background(), &models.PromotionRequirement{
		FromRankID:      "r1",
		ToRankID:        "r2",
		RequiredClasses: 40,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
