package models

import "time"

// Notification kind constants
const (
	NotifyApprovalRequest = "approval_request"
	NotifyApproved        = "approved"
	NotifyRejected        = "rejected"
	NotifyEscalated       = "escalated"
	NotifyReminder        = "reminder"
)

// Notification is a fire-and-forget side record tied to a user and
// optionally an expense. It is not authoritative for workflow state; losing
// one must never corrupt the state machine.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ExpenseID *int64    `json:"expense_id,omitempty"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	IsSent    bool      `json:"is_sent"`
	CreatedAt time.Time `json:"created_at"`
}
