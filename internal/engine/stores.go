package engine

import (
	"database/sql"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
)

// TxRunner executes a function inside a database transaction. Satisfied by
// pkg/database.DB.
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// ExpenseStore is the slice of expense persistence the engine consumes.
// The boolean returns of the Mark* methods are conditional-update results:
// false means the row was not in the expected status.
type ExpenseStore interface {
	GetByID(tx *sql.Tx, id int64) (*models.Expense, error)
	BeginApproval(tx *sql.Tx, id, workflowID int64, step int, amountCCY, rate decimal.Decimal, now time.Time) (bool, error)
	MarkApproved(tx *sql.Tx, id int64, workflowID *int64, now time.Time) (bool, error)
	MarkRejected(tx *sql.Tx, id int64, reason string, now time.Time) (bool, error)
	SetCurrentStep(tx *sql.Tx, id int64, step int, now time.Time) error
}

// WorkflowStore loads workflow templates.
type WorkflowStore interface {
	ActiveByCompany(companyID int64) ([]*models.Workflow, error)
	GetByID(id int64) (*models.Workflow, error)
}

// RuleStore loads approval rules.
type RuleStore interface {
	ActiveForWorkflow(companyID, workflowID int64) ([]*models.Rule, error)
}

// TaskStore is the slice of approval task persistence the engine consumes.
type TaskStore interface {
	Create(tx *sql.Tx, t *models.ApprovalTask) error
	GetByID(tx *sql.Tx, id int64) (*models.ApprovalTask, error)
	Decide(tx *sql.Tx, id int64, status, comments string, approvedAmount *decimal.Decimal, now time.Time) (bool, error)
	Skip(tx *sql.Tx, id int64, reason string, now time.Time) (bool, error)
	SkipPendingForExpense(tx *sql.Tx, expenseID int64, reason string, now time.Time) (int64, error)
	CountPendingForStep(tx *sql.Tx, expenseID int64, stepNumber int) (int, error)
	ExistsForStep(tx *sql.Tx, expenseID int64, stepNumber int, approverID int64) (bool, error)
	PendingForApprover(approverID int64, limit, offset int) ([]*models.ApprovalTask, error)
	ByExpense(expenseID int64) ([]*models.ApprovalTask, error)
	PendingOlderThan(cutoff time.Time) ([]*models.ApprovalTask, error)
	DueForReminder(cutoff time.Time) ([]*models.ApprovalTask, error)
	MarkNotified(tx *sql.Tx, id int64, now time.Time) error
	MarkReminded(tx *sql.Tx, id int64, now time.Time) error
}

// HistoryStore appends and reads the audit trail.
type HistoryStore interface {
	Create(tx *sql.Tx, h *models.HistoryEntry) error
	ByExpense(expenseID int64) ([]*models.HistoryEntry, error)
}

// Notifier delivers notifications best-effort. Implementations must never
// block the caller and never report failure into the workflow: a lost
// notification is logged, not retried inside the transaction.
type Notifier interface {
	Notify(n *models.Notification)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(*models.Notification) {}
