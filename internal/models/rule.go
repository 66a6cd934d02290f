package models

import (
	"encoding/json"
	"time"
)

// Condition operator constants
const (
	OpGreaterThan  = ">"
	OpGreaterEqual = ">="
	OpLessThan     = "<"
	OpLessEqual    = "<="
	OpEqual        = "="
	OpIn           = "IN"
	OpNotIn        = "NOT IN"
)

// Rule action constants
const (
	ActionAutoApprove     = "auto_approve"
	ActionRequireApproval = "require_approval"
	ActionSkipStep        = "skip_step"
	ActionAddApprover     = "add_approver"
)

// Condition field constants
const (
	FieldAmount     = "amount"
	FieldCategory   = "category"
	FieldDepartment = "department"
)

// Rule is a company-configured condition/action override applied to the step
// list before materialization. A nil WorkflowID makes the rule global for the
// company. Rules are data: a malformed rule must evaluate to "does not fire",
// never to an error.
type Rule struct {
	ID        int64  `json:"id"`
	CompanyID int64  `json:"company_id"`
	WorkflowID *int64 `json:"workflow_id,omitempty"`
	Name      string `json:"name"`

	ConditionField    string          `json:"condition_field"`
	ConditionOperator string          `json:"condition_operator"`
	ConditionValue    json.RawMessage `json:"condition_value"`

	ActionType   string          `json:"action_type"`
	ActionParams json.RawMessage `json:"action_params,omitempty"`

	Priority  int       `json:"priority"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// SkipStepParams are the action parameters for a skip_step rule.
type SkipStepParams struct {
	StepNumber int `json:"step_number"`
}

// AddApproverParams are the action parameters for an add_approver rule.
type AddApproverParams struct {
	ApproverID int64 `json:"approver_id"`
}
