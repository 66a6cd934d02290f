package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/approval-engine/internal/models"
)

func TestRuleFires(t *testing.T) {
	f := newFixture(Config{})
	exp := &models.Expense{AmountCompanyCCY: dec("100"), CategoryID: 7}
	submitter := &models.User{Department: "eng"}

	tests := []struct {
		name     string
		field    string
		operator string
		value    string
		want     bool
	}{
		{"amount greater than fires", models.FieldAmount, models.OpGreaterThan, `50`, true},
		{"amount greater than misses", models.FieldAmount, models.OpGreaterThan, `100`, false},
		{"amount greater equal on boundary", models.FieldAmount, models.OpGreaterEqual, `100`, true},
		{"amount less than", models.FieldAmount, models.OpLessThan, `200`, true},
		{"amount less equal misses", models.FieldAmount, models.OpLessEqual, `99.99`, false},
		{"amount equal", models.FieldAmount, models.OpEqual, `100`, true},
		{"amount as quoted string", models.FieldAmount, models.OpEqual, `"100"`, true},
		{"amount in list", models.FieldAmount, models.OpIn, `[50, 100]`, true},
		{"amount not in list", models.FieldAmount, models.OpNotIn, `[50, 100]`, false},
		{"category equal", models.FieldCategory, models.OpEqual, `7`, true},
		{"category in list", models.FieldCategory, models.OpIn, `[3, 7, 9]`, true},
		{"department equal", models.FieldDepartment, models.OpEqual, `"eng"`, true},
		{"department in list", models.FieldDepartment, models.OpIn, `["eng", "ops"]`, true},
		{"department not in list", models.FieldDepartment, models.OpNotIn, `["eng"]`, false},
		{"unknown operator never fires", models.FieldAmount, "BETWEEN", `50`, false},
		{"unknown field never fires", "weather", models.OpEqual, `"rain"`, false},
		{"malformed value never fires", models.FieldAmount, models.OpGreaterThan, `{"oops":1}`, false},
		{"ordering operator on string never fires", models.FieldDepartment, models.OpGreaterThan, `"eng"`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &models.Rule{
				ConditionField:    tt.field,
				ConditionOperator: tt.operator,
				ConditionValue:    json.RawMessage(tt.value),
			}
			assert.Equal(t, tt.want, f.engine.ruleFires(rule, exp, submitter))
		})
	}
}

func TestApplyRulesSkipStep(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	wf := twoStepWorkflow(f)
	f.addRule(&models.Rule{
		ID: 1, CompanyID: 1, Name: "skip finance for ops",
		ConditionField:    models.FieldDepartment,
		ConditionOperator: models.OpEqual,
		ConditionValue:    []byte(`"eng"`),
		ActionType:        models.ActionSkipStep,
		ActionParams:      []byte(`{"step_number": 2}`),
	})

	exp := &models.Expense{ID: 10, CompanyID: 1, AmountCompanyCCY: dec("500")}
	submitter := &models.User{ID: 1, Department: "eng"}

	out, err := f.engine.applyRules(exp, submitter, wf)
	require.NoError(t, err)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, 1, out.Steps[0].StepNumber)
	assert.False(t, out.AutoApproved)
}

func TestApplyRulesAddApprover(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	wf := twoStepWorkflow(f)
	f.addRule(&models.Rule{
		ID: 1, CompanyID: 1, Name: "CFO sign-off over 10k",
		ConditionField:    models.FieldAmount,
		ConditionOperator: models.OpGreaterThan,
		ConditionValue:    []byte(`10000`),
		ActionType:        models.ActionAddApprover,
		ActionParams:      []byte(`{"approver_id": 5}`),
	})

	exp := &models.Expense{ID: 10, CompanyID: 1, AmountCompanyCCY: dec("15000")}
	out, err := f.engine.applyRules(exp, &models.User{ID: 1}, wf)
	require.NoError(t, err)
	require.Len(t, out.Steps, 3)

	added := out.Steps[2]
	assert.Equal(t, 3, added.StepNumber)
	assert.Equal(t, models.ApproverSpecificUser, added.ApproverType)
	require.NotNil(t, added.ApproverID)
	assert.Equal(t, int64(5), *added.ApproverID)
}

func TestApplyRulesPriorityOrderShortCircuits(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	wf := twoStepWorkflow(f)
	f.addRule(&models.Rule{
		ID: 1, CompanyID: 1, Name: "low priority skip",
		ConditionField:    models.FieldAmount,
		ConditionOperator: models.OpGreaterThan,
		ConditionValue:    []byte(`0`),
		ActionType:        models.ActionSkipStep,
		ActionParams:      []byte(`{"step_number": 1}`),
		Priority:          1,
	})
	f.addRule(&models.Rule{
		ID: 2, CompanyID: 1, Name: "high priority auto approve",
		ConditionField:    models.FieldAmount,
		ConditionOperator: models.OpGreaterThan,
		ConditionValue:    []byte(`0`),
		ActionType:        models.ActionAutoApprove,
		Priority:          9,
	})

	exp := &models.Expense{ID: 10, CompanyID: 1, AmountCompanyCCY: dec("100")}
	out, err := f.engine.applyRules(exp, &models.User{ID: 1}, wf)
	require.NoError(t, err)
	assert.True(t, out.AutoApproved)
	require.NotNil(t, out.AutoApproveRule)
	assert.Equal(t, int64(2), out.AutoApproveRule.ID)
	// The lower-priority skip never ran.
	assert.Len(t, out.Steps, 2)
}

func TestApplyRulesMalformedParamsIgnored(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	wf := twoStepWorkflow(f)
	f.addRule(&models.Rule{
		ID: 1, CompanyID: 1, Name: "broken",
		ConditionField:    models.FieldAmount,
		ConditionOperator: models.OpGreaterThan,
		ConditionValue:    []byte(`0`),
		ActionType:        models.ActionSkipStep,
		ActionParams:      []byte(`not json`),
	})

	exp := &models.Expense{ID: 10, CompanyID: 1, AmountCompanyCCY: dec("100")}
	out, err := f.engine.applyRules(exp, &models.User{ID: 1}, wf)
	require.NoError(t, err)
	assert.Len(t, out.Steps, 2)
}

func TestWorkflowScopedRules(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	wf := twoStepWorkflow(f)
	f.addRule(&models.Rule{
		ID: 1, CompanyID: 1, WorkflowID: ptr(int64(99)), Name: "other workflow only",
		ConditionField:    models.FieldAmount,
		ConditionOperator: models.OpGreaterThan,
		ConditionValue:    []byte(`0`),
		ActionType:        models.ActionAutoApprove,
	})

	exp := &models.Expense{ID: 10, CompanyID: 1, AmountCompanyCCY: dec("100")}
	out, err := f.engine.applyRules(exp, &models.User{ID: 1}, wf)
	require.NoError(t, err)
	assert.False(t, out.AutoApproved)
}

func TestSelectWorkflow(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)

	// A scoped workflow for big expenses and the company default.
	f.addWorkflow(&models.Workflow{
		ID: 2, CompanyID: 1, Name: "High value",
		Steps: []*models.WorkflowStep{
			{ID: 21, WorkflowID: 2, StepNumber: 1, ApproverType: models.ApproverCfo, MinAmount: dec("10000")},
		},
	})
	f.addWorkflow(&models.Workflow{
		ID: 1, CompanyID: 1, Name: "Standard", IsDefault: true,
		Steps: []*models.WorkflowStep{
			{ID: 11, WorkflowID: 1, StepNumber: 1, ApproverType: models.ApproverManager, MaxAmount: ptr(dec("9999"))},
		},
	})

	big := &models.Expense{ID: 1, CompanyID: 1, AmountCompanyCCY: dec("20000")}
	wf, err := f.engine.selectWorkflow(big)
	require.NoError(t, err)
	assert.Equal(t, int64(2), wf.ID)

	small := &models.Expense{ID: 2, CompanyID: 1, AmountCompanyCCY: dec("100")}
	wf, err = f.engine.selectWorkflow(small)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.ID)
}

func TestSelectWorkflowFallsBackToDefault(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	f.addWorkflow(&models.Workflow{
		ID: 1, CompanyID: 1, Name: "Standard", IsDefault: true,
		Steps: []*models.WorkflowStep{
			{ID: 11, WorkflowID: 1, StepNumber: 1, ApproverType: models.ApproverManager, MinAmount: dec("1000")},
		},
	})

	// No step admits the amount, but the default still catches it.
	exp := &models.Expense{ID: 1, CompanyID: 1, AmountCompanyCCY: dec("5")}
	wf, err := f.engine.selectWorkflow(exp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.ID)
}

func TestSelectWorkflowNothingQualifies(t *testing.T) {
	f := newFixture(Config{})
	seedCompany(f)
	f.addWorkflow(&models.Workflow{
		ID: 1, CompanyID: 1, Name: "Scoped",
		Steps: []*models.WorkflowStep{
			{ID: 11, WorkflowID: 1, StepNumber: 1, ApproverType: models.ApproverManager, MinAmount: dec("1000")},
		},
	})

	exp := &models.Expense{ID: 1, CompanyID: 1, AmountCompanyCCY: dec("5")}
	_, err := f.engine.selectWorkflow(exp)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestTemplateCacheExpiry(t *testing.T) {
	f := newFixture(Config{CacheTTL: 5 * time.Minute})
	seedCompany(f)

	// The cached (empty-match) template list hides new workflows until the
	// entry expires.
	exp := &models.Expense{ID: 1, CompanyID: 1, AmountCompanyCCY: dec("100")}
	_, err := f.engine.selectWorkflow(exp)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	twoStepWorkflow(f)
	_, err = f.engine.selectWorkflow(exp)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	f.clock.Advance(6 * time.Minute)
	wf, err := f.engine.selectWorkflow(exp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.ID)
}

func TestTemplateCacheInvalidate(t *testing.T) {
	f := newFixture(Config{CacheTTL: 5 * time.Minute})
	seedCompany(f)

	exp := &models.Expense{ID: 1, CompanyID: 1, AmountCompanyCCY: dec("100")}
	_, err := f.engine.selectWorkflow(exp)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	twoStepWorkflow(f)
	f.engine.InvalidateTemplates(1)

	wf, err := f.engine.selectWorkflow(exp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wf.ID)
}
