package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestStepAppliesTo(t *testing.T) {
	max := d("1000")
	tests := []struct {
		name string
		step WorkflowStep
		exp  Expense
		want bool
	}{
		{
			name: "no bounds admits everything",
			step: WorkflowStep{},
			exp:  Expense{AmountCompanyCCY: d("5")},
			want: true,
		},
		{
			name: "below min amount",
			step: WorkflowStep{MinAmount: d("100")},
			exp:  Expense{AmountCompanyCCY: d("99.99")},
			want: false,
		},
		{
			name: "on min amount boundary",
			step: WorkflowStep{MinAmount: d("100")},
			exp:  Expense{AmountCompanyCCY: d("100")},
			want: true,
		},
		{
			name: "above max amount",
			step: WorkflowStep{MaxAmount: &max},
			exp:  Expense{AmountCompanyCCY: d("1000.01")},
			want: false,
		},
		{
			name: "category match",
			step: WorkflowStep{CategoryIDs: []int64{3, 7}},
			exp:  Expense{AmountCompanyCCY: d("10"), CategoryID: 7},
			want: true,
		},
		{
			name: "category mismatch",
			step: WorkflowStep{CategoryIDs: []int64{3, 7}},
			exp:  Expense{AmountCompanyCCY: d("10"), CategoryID: 9},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.AppliesTo(&tt.exp))
		})
	}
}

func TestStepShouldAutoApprove(t *testing.T) {
	threshold := d("50")
	step := WorkflowStep{AutoApproveThreshold: &threshold}

	assert.True(t, step.ShouldAutoApprove(d("30")))
	assert.True(t, step.ShouldAutoApprove(d("50")))
	assert.False(t, step.ShouldAutoApprove(d("50.01")))

	none := WorkflowStep{}
	assert.False(t, none.ShouldAutoApprove(d("0.01")))
}

func TestStepWithinApprovedThreshold(t *testing.T) {
	step := WorkflowStep{ThresholdPercentage: 50}

	assert.True(t, step.WithinApprovedThreshold(d("150"), d("400")))
	assert.True(t, step.WithinApprovedThreshold(d("200"), d("400")))
	assert.False(t, step.WithinApprovedThreshold(d("200.01"), d("400")))

	never := WorkflowStep{ThresholdPercentage: 0}
	assert.False(t, never.WithinApprovedThreshold(d("0"), d("400")))
}

func TestExpenseLifecycleChecks(t *testing.T) {
	assert.True(t, (&Expense{Status: StatusDraft}).CanBeSubmitted())
	assert.False(t, (&Expense{Status: StatusInApproval}).CanBeSubmitted())

	assert.False(t, (&Expense{Status: StatusInApproval}).IsTerminal())
	assert.True(t, (&Expense{Status: StatusApproved}).IsTerminal())
	assert.True(t, (&Expense{Status: StatusRejected}).IsTerminal())
	assert.True(t, (&Expense{Status: StatusPaid}).IsTerminal())
}
