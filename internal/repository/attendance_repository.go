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

// AttendanceRepository handles persistence for per-session attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CountPresentSince counts a student's present marks on or after the given
// baseline. A nil baseline counts the entire attendance history.
func (r *AttendanceRepository) CountPresentSince(ctx context.Context, studentID string, since *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM attendance a
        JOIN class_sessions cs ON cs.id = a.session_id
        WHERE a.student_id = $1 AND a.present = TRUE`
	args := []interface{}{studentID}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND cs.session_date >= $%d", len(args))
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count present marks: %w", err)
	}
	return count, nil
}

// ListBySession returns all marks recorded for one session.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Attendance, error) {
	const query = `SELECT id, session_id, student_id, present, created_at, updated_at FROM attendance WHERE session_id = $1 ORDER BY created_at ASC`
	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session attendance: %w", err)
	}
	return rows, nil
}

// BulkMark inserts marks for one session. Duplicate (session, student) pairs
// are reported as conflicts; with atomic set, the first duplicate aborts the
// whole batch.
func (r *AttendanceRepository) BulkMark(ctx context.Context, sessionID string, entries []models.AttendanceEntry, atomic bool) (*models.BulkAttendanceResult, error) {
	result := &models.BulkAttendanceResult{}
	if len(entries) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk attendance: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback() //nolint:errcheck
		}
	}()

	const query = `INSERT INTO attendance (id, session_id, student_id, present, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (session_id, student_id) DO NOTHING RETURNING id`
	now := time.Now().UTC()
	for _, entry := range entries {
		var insertedID string
		err := tx.QueryRowxContext(ctx, query, uuid.NewString(), sessionID, entry.StudentID, entry.Present, now, now).Scan(&insertedID)
		if err != nil {
			if err == sql.ErrNoRows {
				result.Conflicts = append(result.Conflicts, models.AttendanceConflict{
					StudentID: entry.StudentID,
					Reason:    "already marked for this session",
				})
				if atomic {
					return nil, fmt.Errorf("bulk attendance: duplicate mark for student %s", entry.StudentID)
				}
				continue
			}
			return nil, fmt.Errorf("bulk attendance: %w", err)
		}
		result.Marked++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk attendance: %w", err)
	}
	commit = true
	return result, nil
}

// StudentSummary aggregates a student's present and absent counts, counting
// only marks at or after the optional baseline.
func (r *AttendanceRepository) StudentSummary(ctx context.Context, studentID string, since *time.Time) (*models.AttendanceSummary, error) {
	query := `SELECT a.present, COUNT(*) AS cnt FROM attendance a
        JOIN class_sessions cs ON cs.id = a.session_id
        WHERE a.student_id = $1`
	args := []interface{}{studentID}
	if since != nil {
		args = append(args, *since)
		query += fmt.Sprintf(" AND cs.session_date >= $%d", len(args))
	}
	query += " GROUP BY a.present"

	rows := []struct {
		Present bool `db:"present"`
		Count   int  `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("student attendance summary: %w", err)
	}

	summary := &models.AttendanceSummary{StudentID: studentID, BaselineDate: since}
	for _, row := range rows {
		if row.Present {
			summary.Present += row.Count
		} else {
			summary.Absent += row.Count
		}
	}
	return summary, nil
}

// ClassReportRow is one line of the attendance report export.
type ClassReportRow struct {
	SessionDate time.Time `db:"session_date"`
	ClassName   string    `db:"class_name"`
	StudentName string    `db:"student_name"`
	Present     bool      `db:"present"`
}

// ClassReport lists marks for a class within the optional window, for export.
func (r *AttendanceRepository) ClassReport(ctx context.Context, classID string, from, to *time.Time) ([]ClassReportRow, error) {
	where := []string{"1=1"}
	var args []interface{}
	if classID != "" {
		args = append(args, classID)
		where = append(where, fmt.Sprintf("cs.class_id = $%d", len(args)))
	}
	if from != nil {
		args = append(args, *from)
		where = append(where, fmt.Sprintf("cs.session_date >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		where = append(where, fmt.Sprintf("cs.session_date <= $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT cs.session_date, c.name AS class_name, s.full_name AS student_name, a.present
        FROM attendance a
        JOIN class_sessions cs ON cs.id = a.session_id
        JOIN class_groups c ON c.id = cs.class_id
        JOIN students s ON s.id = a.student_id
        WHERE %s ORDER BY cs.session_date ASC, s.full_name ASC`, strings.Join(where, " AND "))

	var rows []ClassReportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("class attendance report: %w", err)
	}
	return rows, nil
}
