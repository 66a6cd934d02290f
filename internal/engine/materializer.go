package engine

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// materializeStep expands one template step into pending approval tasks
// inside tx. Approvers are deduplicated, the submitter never approves their
// own expense, and approvers who already hold a task for this step (from an
// earlier partial run or an escalation) are not assigned again. An empty
// return means the step resolved to nobody and the chain should move on.
func (e *Engine) materializeStep(tx *sql.Tx, exp *models.Expense, step *models.WorkflowStep, submitter *models.User, now time.Time) ([]*models.ApprovalTask, error) {
	approvers, err := e.resolveApprovers(step, exp, submitter)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		e.logger.Warn("Workflow step resolved to no approvers",
			zap.Int64("expense_id", exp.ID),
			zap.Int("step", step.StepNumber),
			zap.String("approver_type", step.ApproverType))
		return nil, nil
	}

	seen := make(map[int64]bool, len(approvers))
	tasks := make([]*models.ApprovalTask, 0, len(approvers))
	for _, approver := range approvers {
		if seen[approver.ID] || approver.ID == exp.UserID {
			continue
		}
		seen[approver.ID] = true

		exists, err := e.tasks.ExistsForStep(tx, exp.ID, step.StepNumber, approver.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing task: %w", err)
		}
		if exists {
			continue
		}

		task := &models.ApprovalTask{
			ExpenseID:    exp.ID,
			StepNumber:   step.StepNumber,
			ApproverID:   approver.ID,
			ApproverType: step.ApproverType,
			Status:       models.TaskPending,
			CreatedAt:    now,
		}
		if step.ID != 0 {
			stepID := step.ID
			task.WorkflowStepID = &stepID
		}
		if err := e.tasks.Create(tx, task); err != nil {
			return nil, fmt.Errorf("failed to create approval task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}
