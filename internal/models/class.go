package models

import "time"

// ClassGroup represents a recurring training group (e.g. "Adults Mon/Wed 19:00").
type ClassGroup struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Schedule    string    `db:"schedule" json:"schedule"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ClassGroupFilter encapsulates allowed search parameters for listing classes.
type ClassGroupFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ClassSession is a single dated occurrence of a class group.
type ClassSession struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Date      time.Time `db:"session_date" json:"session_date"`
	Notes     string    `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Attendance records one student's presence at one session.
// (session_id, student_id) is unique.
type Attendance struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Present   bool      `db:"present" json:"present"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AttendanceEntry is one row of a bulk attendance submission.
type AttendanceEntry struct {
	StudentID string `json:"student_id" validate:"required,uuid4"`
	Present   bool   `json:"present"`
}

// AttendanceConflict describes a row rejected during bulk marking.
type AttendanceConflict struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason"`
}

// BulkAttendanceResult summarizes a bulk marking run.
type BulkAttendanceResult struct {
	Marked    int                  `json:"marked"`
	Conflicts []AttendanceConflict `json:"conflicts,omitempty"`
}

// AttendanceSummary aggregates a student's presence counts.
type AttendanceSummary struct {
	StudentID    string     `json:"student_id"`
	BaselineDate *time.Time `json:"baseline_date,omitempty"`
	Present      int        `json:"present"`
	Absent       int        `json:"absent"`
}
