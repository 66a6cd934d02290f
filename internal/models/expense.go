package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Expense is the approvable unit. It is created as a draft by the submitter
// and moves through the lifecycle only via the workflow engine.
type Expense struct {
	ID               int64           `json:"id"`
	RequestNumber    string          `json:"request_number"`
	UserID           int64           `json:"user_id"`
	CompanyID        int64           `json:"company_id"`
	WorkflowID       *int64          `json:"workflow_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	AmountCompanyCCY decimal.Decimal `json:"amount_company_ccy"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	CategoryID       int64           `json:"category_id"`
	Description      string          `json:"description"`
	Status           string          `json:"status"`
	CurrentStep      int             `json:"current_step"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	RejectedAt       *time.Time      `json:"rejected_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Expense status constants
const (
	StatusDraft      = "draft"
	StatusSubmitted  = "submitted"
	StatusInApproval = "in_approval"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusPaid       = "paid"
)

// IsTerminal reports whether the expense has reached a final approval state.
func (e *Expense) IsTerminal() bool {
	switch e.Status {
	case StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// CanBeSubmitted reports whether the expense is eligible for submission.
func (e *Expense) CanBeSubmitted() bool {
	return e.Status == StatusDraft
}

// Company holds the company attributes the engine needs: the currency every
// expense amount is normalized into.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}
