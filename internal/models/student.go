package models

import "time"

// Student represents a practitioner registered at the school.
type Student struct {
	ID                string     `db:"id" json:"id"`
	FullName          string     `db:"full_name" json:"full_name"`
	Gender            string     `db:"gender" json:"gender"`
	BirthDate         time.Time  `db:"birth_date" json:"birth_date"`
	Phone             string     `db:"phone" json:"phone"`
	Email             string     `db:"email" json:"email"`
	Address           string     `db:"address" json:"address"`
	AccountID         *string    `db:"account_id" json:"account_id,omitempty"`
	ResetBaselineDate *time.Time `db:"reset_baseline_date" json:"reset_baseline_date,omitempty"`
	Active            bool       `db:"active" json:"active"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// AgeAt returns the student's age in whole years at the given instant.
func (s Student) AgeAt(now time.Time) int {
	age := now.Year() - s.BirthDate.Year()
	anniversary := time.Date(now.Year(), s.BirthDate.Month(), s.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
	if now.Before(anniversary) {
		age--
	}
	if age < 0 {
		age = 0
	}
	return age
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail contains student information with their current belt context.
type StudentDetail struct {
	Student
	CurrentRankID   *string    `db:"current_rank_id" json:"current_rank_id,omitempty"`
	CurrentRankName *string    `db:"current_rank_name" json:"current_rank_name,omitempty"`
	CurrentDegree   *int       `db:"current_degree" json:"current_degree,omitempty"`
	LastPromotedAt  *time.Time `db:"last_promoted_at" json:"last_promoted_at,omitempty"`
}
