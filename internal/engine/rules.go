package engine

import (
	"encoding/json"
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ruleOutcome is the result of folding a company's active rules over a
// workflow's step list at submission time.
type ruleOutcome struct {
	// AutoApproved short-circuits the whole workflow; AutoApproveRule is the
	// rule that fired.
	AutoApproved    bool
	AutoApproveRule *models.Rule

	// RequireApproval disables per-step auto-approve thresholds.
	RequireApproval bool

	// Steps is the effective step list after skip_step removals and
	// add_approver appends, ordered by step number.
	Steps []*models.WorkflowStep
}

// applyRules evaluates the company's active rules against the expense, in
// priority order, and folds their actions over the workflow's steps. A
// malformed rule never fires and never fails submission.
func (e *Engine) applyRules(exp *models.Expense, submitter *models.User, wf *models.Workflow) (*ruleOutcome, error) {
	rules, err := e.rules.ActiveForWorkflow(exp.CompanyID, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for workflow %d: %w", wf.ID, err)
	}

	out := &ruleOutcome{Steps: make([]*models.WorkflowStep, len(wf.Steps))}
	copy(out.Steps, wf.Steps)

	for _, rule := range rules {
		if !e.ruleFires(rule, exp, submitter) {
			continue
		}

		switch rule.ActionType {
		case models.ActionAutoApprove:
			out.AutoApproved = true
			out.AutoApproveRule = rule
			return out, nil

		case models.ActionRequireApproval:
			out.RequireApproval = true

		case models.ActionSkipStep:
			var params models.SkipStepParams
			if err := json.Unmarshal(rule.ActionParams, &params); err != nil {
				e.logger.Warn("Skipping rule with malformed skip_step params",
					zap.Int64("rule_id", rule.ID), zap.Error(err))
				continue
			}
			out.Steps = removeStep(out.Steps, params.StepNumber)

		case models.ActionAddApprover:
			var params models.AddApproverParams
			if err := json.Unmarshal(rule.ActionParams, &params); err != nil {
				e.logger.Warn("Skipping rule with malformed add_approver params",
					zap.Int64("rule_id", rule.ID), zap.Error(err))
				continue
			}
			out.Steps = appendApproverStep(out.Steps, wf.ID, params.ApproverID, rule.Name)

		default:
			e.logger.Warn("Skipping rule with unknown action",
				zap.Int64("rule_id", rule.ID), zap.String("action", rule.ActionType))
		}
	}

	return out, nil
}

// ruleFires evaluates a rule's condition against the expense. Unknown fields
// and operators, and unparsable condition values, mean the rule does not
// fire.
func (e *Engine) ruleFires(rule *models.Rule, exp *models.Expense, submitter *models.User) bool {
	switch rule.ConditionField {
	case models.FieldAmount:
		return compareNumeric(exp.AmountCompanyCCY, rule.ConditionOperator, rule.ConditionValue)
	case models.FieldCategory:
		return compareNumeric(decimal.NewFromInt(exp.CategoryID), rule.ConditionOperator, rule.ConditionValue)
	case models.FieldDepartment:
		if submitter == nil {
			return false
		}
		return compareString(submitter.Department, rule.ConditionOperator, rule.ConditionValue)
	default:
		e.logger.Warn("Skipping rule with unknown condition field",
			zap.Int64("rule_id", rule.ID), zap.String("field", rule.ConditionField))
		return false
	}
}

func compareNumeric(actual decimal.Decimal, operator string, raw json.RawMessage) bool {
	switch operator {
	case models.OpIn, models.OpNotIn:
		values, ok := decodeNumberList(raw)
		if !ok {
			return false
		}
		found := false
		for _, v := range values {
			if actual.Equal(v) {
				found = true
				break
			}
		}
		if operator == models.OpIn {
			return found
		}
		return !found
	}

	expected, ok := decodeNumber(raw)
	if !ok {
		return false
	}
	switch operator {
	case models.OpGreaterThan:
		return actual.GreaterThan(expected)
	case models.OpGreaterEqual:
		return actual.GreaterThanOrEqual(expected)
	case models.OpLessThan:
		return actual.LessThan(expected)
	case models.OpLessEqual:
		return actual.LessThanOrEqual(expected)
	case models.OpEqual:
		return actual.Equal(expected)
	}
	return false
}

func compareString(actual, operator string, raw json.RawMessage) bool {
	switch operator {
	case models.OpEqual:
		var expected string
		if err := json.Unmarshal(raw, &expected); err != nil {
			return false
		}
		return actual == expected
	case models.OpIn, models.OpNotIn:
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil {
			return false
		}
		found := false
		for _, v := range values {
			if v == actual {
				found = true
				break
			}
		}
		if operator == models.OpIn {
			return found
		}
		return !found
	}
	return false
}

// decodeNumber accepts both JSON numbers and numeric strings, since rule
// condition values are operator-entered.
func decodeNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if d, derr := decimal.NewFromString(n.String()); derr == nil {
			return d, true
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if d, derr := decimal.NewFromString(s); derr == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

func decodeNumberList(raw json.RawMessage) ([]decimal.Decimal, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	values := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		d, ok := decodeNumber(item)
		if !ok {
			return nil, false
		}
		values = append(values, d)
	}
	return values, true
}

func removeStep(steps []*models.WorkflowStep, stepNumber int) []*models.WorkflowStep {
	out := steps[:0:0]
	for _, s := range steps {
		if s.StepNumber != stepNumber {
			out = append(out, s)
		}
	}
	return out
}

// appendApproverStep adds a synthetic specific_user step after the last
// existing step. The step is unconditional so the added approver always
// materializes.
func appendApproverStep(steps []*models.WorkflowStep, workflowID, approverID int64, name string) []*models.WorkflowStep {
	maxStep := 0
	for _, s := range steps {
		if s.StepNumber > maxStep {
			maxStep = s.StepNumber
		}
	}
	id := approverID
	return append(steps, &models.WorkflowStep{
		WorkflowID:   workflowID,
		StepNumber:   maxStep + 1,
		Name:         name,
		ApproverType: models.ApproverSpecificUser,
		ApproverID:   &id,
	})
}
