package domain

import (
	"time"
)

// CategoryWeights maps a spending category to its relative share of a budget.
// Weights are non-negative and need not sum to 1; the allocator normalizes.
type CategoryWeights map[string]float64

// Clone returns an independent copy of the weight table.
func (w CategoryWeights) Clone() CategoryWeights {
	out := make(CategoryWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Behavior labels form a closed set. Unrecognized labels are treated
// as BehaviorNeutral (no adjustment).
const (
	BehaviorNeutral   = "neutral"
	BehaviorImpulsive = "impulsive"
	BehaviorFrugal    = "frugal"
	BehaviorSaver     = "saver"
	BehaviorSpender   = "spender"
	BehaviorErratic   = "erratic"
)

// BehaviorProfile describes a user's spending tendency for one planning run.
// It is an immutable input: the planner never mutates it.
type BehaviorProfile struct {
	Behavior   string   `json:"behavior"`
	Region     string   `json:"region,omitempty"`
	Income     float64  `json:"income,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// DailyAllocation is the planned spend for a single calendar day.
// Amounts are non-negative and rounded to 2 decimal places.
type DailyAllocation struct {
	Day     int                `json:"day"`     // day of month, 1-based
	Weekday int                `json:"weekday"` // Monday=0
	Amounts map[string]float64 `json:"amounts"`
	Total   float64            `json:"total"`
}

// MonthlyCalendar is an ordered sequence of daily allocations for one
// (tenant, year, month). The planner builds it fresh per request and never
// persists it itself; storage belongs to the Repository collaborator.
type MonthlyCalendar struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Year     int    `json:"year"`
	Month    int    `json:"month"` // 1-12

	Behavior string  `json:"behavior"`
	ConfigID string  `json:"configId"`
	Budget   float64 `json:"budget"`

	Days []DailyAllocation `json:"days"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// DayCount returns the number of days in the calendar's month.
func DayCount(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WeekdayOf returns the Monday=0 weekday index for a day of the month.
func WeekdayOf(year, month, day int) int {
	wd := int(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Weekday())
	return (wd + 6) % 7 // time.Weekday is Sunday=0
}

// DailyActual records a user's realized spend for one day.
type DailyActual struct {
	TenantID string `json:"tenantId"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Day      int    `json:"day"`

	Total      float64            `json:"total"`
	Categories map[string]float64 `json:"categories,omitempty"`

	RecordedAt time.Time `json:"recordedAt"`
}

// DailyTotal is one point of a daily-total series fed to the anomaly
// detector. Day is an opaque identifier (typically the day number as a
// string) carried through to the output unchanged.
type DailyTotal struct {
	Day   string  `json:"day"`
	Total float64 `json:"total"`
}
