package models

import "time"

// RankTrack distinguishes the youth and adult belt ladders.
type RankTrack string

const (
	TrackYouth RankTrack = "YOUTH"
	TrackAdult RankTrack = "ADULT"
)

const (
	// YouthTrackMaxOrder is the highest rank order on the youth ladder.
	// Orders above it belong to the adult ladder.
	YouthTrackMaxOrder = 13

	// YouthAgeLimit is the age below which a student trains on the youth ladder.
	YouthAgeLimit = 16
)

// Rank represents a belt in the school's progression ladder.
type Rank struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	RankOrder      int       `db:"rank_order" json:"rank_order"`
	MinAge         *int      `db:"min_age" json:"min_age,omitempty"`
	BadgeURL       *string   `db:"badge_url" json:"badge_url,omitempty"`
	GrantsTeaching bool      `db:"grants_teaching" json:"grants_teaching"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Track reports which ladder the rank belongs to based on its order.
func (r Rank) Track() RankTrack {
	if r.RankOrder <= YouthTrackMaxOrder {
		return TrackYouth
	}
	return TrackAdult
}

// TrackForAge reports which ladder a student of the given age trains on.
func TrackForAge(age int) RankTrack {
	if age < YouthAgeLimit {
		return TrackYouth
	}
	return TrackAdult
}

// RankFilter encapsulates allowed search parameters for listing ranks.
type RankFilter struct {
	Track     *RankTrack
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// PromotionRequirement defines the attendance threshold for one belt transition.
type PromotionRequirement struct {
	ID                   string    `db:"id" json:"id"`
	FromRankID           string    `db:"from_rank_id" json:"from_rank_id"`
	ToRankID             string    `db:"to_rank_id" json:"to_rank_id"`
	RequiredClasses      int       `db:"required_classes" json:"required_classes"`
	YouthRequiredClasses *int      `db:"youth_required_classes" json:"youth_required_classes,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// RequiredFor returns the class threshold applicable to the given track.
func (r PromotionRequirement) RequiredFor(track RankTrack) int {
	if track == TrackYouth && r.YouthRequiredClasses != nil {
		return *r.YouthRequiredClasses
	}
	return r.RequiredClasses
}
