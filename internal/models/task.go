package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Approval task status constants
const (
	TaskPending  = "pending"
	TaskApproved = "approved"
	TaskRejected = "rejected"
	TaskSkipped  = "skipped"
)

// ApprovalTask is one approver's obligation for one expense at one step.
// (expense_id, step_number, approver_id) is unique: an approver is never
// asked twice for the same step.
type ApprovalTask struct {
	ID             int64            `json:"id"`
	ExpenseID      int64            `json:"expense_id"`
	WorkflowStepID *int64           `json:"workflow_step_id,omitempty"`
	StepNumber     int              `json:"step_number"`
	ApproverID     int64            `json:"approver_id"`
	ApproverType   string           `json:"approver_type"`
	Status         string           `json:"status"`
	Comments       string           `json:"comments,omitempty"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	NotifiedAt     *time.Time       `json:"notified_at,omitempty"`
	RemindedAt     *time.Time       `json:"reminded_at,omitempty"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
}

// CanBeProcessedBy reports whether the user may act on this task.
func (t *ApprovalTask) CanBeProcessedBy(userID int64) bool {
	return t.ApproverID == userID && t.Status == TaskPending
}

// IsOverdue reports whether a pending task has been waiting longer than age.
func (t *ApprovalTask) IsOverdue(now time.Time, age time.Duration) bool {
	return t.Status == TaskPending && now.Sub(t.CreatedAt) > age
}

// ApproverStats aggregates an approver's decision counts and average
// turnaround over a window.
type ApproverStats struct {
	Status   string  `json:"status"`
	Count    int     `json:"count"`
	AvgHours float64 `json:"avg_hours"`
}
