package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// RunEscalationSweep finds tasks pending longer than the escalation timeout
// and reassigns each to the approver's manager, falling back to an active
// company admin. A task with no escalation target is logged and left
// pending. Returns the number of tasks escalated.
func (e *Engine) RunEscalationSweep(ctx context.Context) (int, error) {
	cutoff := e.clock.Now().Add(-e.cfg.EscalationTimeout)
	overdue, err := e.tasks.PendingOlderThan(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	escalated := 0
	for _, task := range overdue {
		if ctx.Err() != nil {
			return escalated, ctx.Err()
		}
		ok, err := e.escalateTask(task)
		if err != nil {
			e.logger.Error("Failed to escalate task",
				zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}
		if ok {
			escalated++
		}
	}
	return escalated, nil
}

func (e *Engine) escalateTask(task *models.ApprovalTask) (bool, error) {
	exp, err := e.expenses.GetByID(nil, task.ExpenseID)
	if err != nil {
		return false, err
	}
	if exp == nil || exp.IsTerminal() {
		return false, nil
	}

	target, err := e.escalationTarget(task.ApproverID, exp.CompanyID)
	if err != nil {
		return false, err
	}
	if target == nil {
		e.logger.Warn("No escalation target, task stays pending",
			zap.Int64("task_id", task.ID),
			zap.Int64("approver_id", task.ApproverID))
		return false, nil
	}

	now := e.clock.Now()
	var fx effects

	err = e.db.WithTransaction(func(tx *sql.Tx) error {
		ok, err := e.tasks.Skip(tx, task.ID, "escalated after timeout", now)
		if err != nil {
			return err
		}
		if !ok {
			// Decided between the listing and now.
			return nil
		}

		exists, err := e.tasks.ExistsForStep(tx, exp.ID, task.StepNumber, target.ID)
		if err != nil {
			return err
		}
		if !exists {
			replacement := &models.ApprovalTask{
				ExpenseID:      exp.ID,
				WorkflowStepID: task.WorkflowStepID,
				StepNumber:     task.StepNumber,
				ApproverID:     target.ID,
				ApproverType:   models.ApproverEscalated,
				Status:         models.TaskPending,
				CreatedAt:      now,
			}
			if err := e.tasks.Create(tx, replacement); err != nil {
				return err
			}
			fx.notifiedTasks = append(fx.notifiedTasks, replacement)
		}

		step := task.StepNumber
		meta := map[string]interface{}{"from_approver": task.ApproverID, "to_approver": target.ID}
		if err := e.recordHistory(tx, exp.ID, task.ApproverID, models.HistoryEscalated,
			exp.Status, exp.Status, &step, "", meta, now); err != nil {
			return err
		}

		expID := exp.ID
		fx.notifications = append(fx.notifications, &models.Notification{
			UserID:    target.ID,
			ExpenseID: &expID,
			Kind:      models.NotifyEscalated,
			Title:     "Approval escalated to you",
			Message: fmt.Sprintf("Expense %s was escalated to you after waiting at step %d.",
				exp.RequestNumber, task.StepNumber),
			CreatedAt: now,
		})
		return nil
	})
	if err != nil {
		return false, err
	}

	e.dispatch(&fx)
	return len(fx.notifications) > 0, nil
}

// escalationTarget picks who an overdue task falls to: the approver's
// manager, else any active company admin.
func (e *Engine) escalationTarget(approverID, companyID int64) (*models.User, error) {
	manager, err := e.directory.GetManager(approverID)
	if err != nil {
		return nil, err
	}
	if manager != nil {
		return manager, nil
	}
	return e.directory.GetActiveAdmin(companyID)
}

// RunReminderSweep nudges approvers whose tasks were notified longer than
// the reminder window ago and not yet reminded within it. Stamping
// reminded_at keeps the sweep idempotent inside a window. Returns the number
// of reminders sent.
func (e *Engine) RunReminderSweep(ctx context.Context) (int, error) {
	now := e.clock.Now()
	cutoff := now.Add(-e.cfg.ReminderWindow)
	due, err := e.tasks.DueForReminder(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list tasks due for reminder: %w", err)
	}

	reminded := 0
	for _, task := range due {
		if ctx.Err() != nil {
			return reminded, ctx.Err()
		}

		exp, err := e.expenses.GetByID(nil, task.ExpenseID)
		if err != nil {
			e.logger.Error("Failed to load expense for reminder",
				zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}
		if exp == nil || exp.IsTerminal() {
			continue
		}

		expID := exp.ID
		e.notifier.Notify(&models.Notification{
			UserID:    task.ApproverID,
			ExpenseID: &expID,
			Kind:      models.NotifyReminder,
			Title:     "Approval reminder",
			Message: fmt.Sprintf("Expense %s is still waiting for your decision at step %d.",
				exp.RequestNumber, task.StepNumber),
			CreatedAt: now,
		})
		if err := e.tasks.MarkReminded(nil, task.ID, now); err != nil {
			e.logger.Error("Failed to stamp reminder time",
				zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}
		reminded++
	}
	return reminded, nil
}
