package models

import "time"

// Promotion is one entry in a student's append-only belt ledger.
type Promotion struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	RankID     string    `db:"rank_id" json:"rank_id"`
	Degree     int       `db:"degree" json:"degree"`
	PromotedAt time.Time `db:"promoted_at" json:"promoted_at"`
	ApprovedBy *string   `db:"approved_by" json:"approved_by,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PromotionDetail joins the ledger entry with its rank for history listings.
type PromotionDetail struct {
	Promotion
	RankName  string `db:"rank_name" json:"rank_name"`
	RankOrder int    `db:"rank_order" json:"rank_order"`
}

// EligibilityResult is the outcome of evaluating one student against the
// promotion rules.
type EligibilityResult struct {
	StudentID       string     `json:"student_id"`
	StudentName     string     `json:"student_name"`
	Track           RankTrack  `json:"track"`
	CurrentRank     Rank       `json:"current_rank"`
	NextRank        *Rank      `json:"next_rank,omitempty"`
	NextApplicable  bool       `json:"next_applicable"`
	BaselineDate    *time.Time `json:"baseline_date,omitempty"`
	AttendedClasses int        `json:"attended_classes"`
	RequiredClasses int        `json:"required_classes"`
	Eligible        bool       `json:"eligible"`
}
