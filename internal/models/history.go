package models

import "time"

// History action constants
const (
	HistorySubmitted    = "submitted"
	HistoryAssigned     = "assigned"
	HistoryApproved     = "approved"
	HistoryRejected     = "rejected"
	HistoryEscalated    = "escalated"
	HistoryAutoApproved = "auto_approved"
	HistorySkipped      = "skipped"
)

// HistoryEntry is one append-only row per state transition. It is the source
// of truth for audit and analytics; entries are never updated, and deleted
// only by the retention sweep over terminal expenses.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	ExpenseID      int64     `json:"expense_id"`
	ActorID        int64     `json:"actor_id"`
	Action         string    `json:"action"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	NewStatus      string    `json:"new_status,omitempty"`
	StepNumber     *int      `json:"step_number,omitempty"`
	Comments       string    `json:"comments,omitempty"`
	Metadata       string    `json:"metadata,omitempty"` // JSON blob
	CreatedAt      time.Time `json:"created_at"`
}

// AnalyticsRow is one aggregated bucket of approval activity: count and
// average amount per action per day.
type AnalyticsRow struct {
	Action    string  `json:"action"`
	Date      string  `json:"date"`
	Count     int     `json:"count"`
	AvgAmount float64 `json:"avg_amount"`
}
