package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Workflow is a reusable, company-scoped template of ordered approval steps.
// At most one workflow per company carries IsDefault. A workflow is immutable
// once a submitted expense references it; expenses snapshot the workflow id
// at submission time.
type Workflow struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"company_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	IsDefault   bool            `json:"is_default"`
	IsActive    bool            `json:"is_active"`
	Steps       []*WorkflowStep `json:"steps,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Approver type constants
const (
	ApproverSpecificUser   = "specific_user"
	ApproverManager        = "manager"
	ApproverRole           = "role"
	ApproverDepartmentHead = "department_head"
	ApproverFinance        = "finance"
	ApproverCfo            = "cfo"
	ApproverEscalated      = "escalated"
)

// WorkflowStep is one stage of a workflow template. ApproverType together
// with ApproverID/ApproverRole forms the approver spec resolved at
// materialization time. Applicability bounds restrict the step to a range of
// amounts and a category set; absent bounds mean unconditional.
type WorkflowStep struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	StepNumber int    `json:"step_number"`
	Name       string `json:"name"`

	ApproverType string `json:"approver_type"`
	ApproverID   *int64 `json:"approver_id,omitempty"`
	ApproverRole string `json:"approver_role,omitempty"`

	MinAmount   decimal.Decimal  `json:"min_amount"`
	MaxAmount   *decimal.Decimal `json:"max_amount,omitempty"`
	CategoryIDs []int64          `json:"category_ids,omitempty"`

	// AutoApproveThreshold skips the step for amounts at or below it.
	AutoApproveThreshold *decimal.Decimal `json:"auto_approve_threshold,omitempty"`

	// ThresholdPercentage auto-skips the step at advancement time when the
	// previous approver approved at most this percentage of the requested
	// amount. Zero means the step is never auto-skipped.
	ThresholdPercentage int `json:"threshold_percentage"`

	CreatedAt time.Time `json:"created_at"`
}

// AppliesTo reports whether the step's amount and category bounds admit the
// expense. Amounts are compared in company currency.
func (s *WorkflowStep) AppliesTo(e *Expense) bool {
	amount := e.AmountCompanyCCY

	if s.MinAmount.IsPositive() && amount.LessThan(s.MinAmount) {
		return false
	}
	if s.MaxAmount != nil && amount.GreaterThan(*s.MaxAmount) {
		return false
	}

	if len(s.CategoryIDs) > 0 {
		found := false
		for _, id := range s.CategoryIDs {
			if id == e.CategoryID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// ShouldAutoApprove reports whether the amount is at or below the step's
// auto-approve threshold.
func (s *WorkflowStep) ShouldAutoApprove(amount decimal.Decimal) bool {
	return s.AutoApproveThreshold != nil && amount.LessThanOrEqual(*s.AutoApproveThreshold)
}

// WithinApprovedThreshold reports whether an amount approved upstream is
// small enough, relative to the requested amount, for this step to be
// skipped. A zero percentage never skips.
func (s *WorkflowStep) WithinApprovedThreshold(approved, requested decimal.Decimal) bool {
	if s.ThresholdPercentage <= 0 {
		return false
	}
	limit := requested.Mul(decimal.NewFromInt(int64(s.ThresholdPercentage))).Div(decimal.NewFromInt(100))
	return approved.LessThanOrEqual(limit)
}
