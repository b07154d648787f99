package broker

import "time"

// Profile is a broker account: the user row, its 1:1 performance metrics and
// the areas the broker serves.
type Profile struct {
	UserID                 string
	Name                   string
	Phone                  string
	Email                  *string
	IsActive               bool
	OverallRate            float64
	ResponseSpeedScore     float64
	ClosingRate            float64
	LostRequestsCount      int
	WithdrawnRequestsCount int
	AreaIDs                []string
	CreatedAt              time.Time
}
