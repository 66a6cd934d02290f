package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/expenseflow/approval-engine/internal/currency"
	"github.com/expenseflow/approval-engine/internal/directory"
	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Decision constants accepted by ProcessApproval.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// Stores bundles the persistence interfaces the engine consumes.
type Stores struct {
	DB        TxRunner
	Expenses  ExpenseStore
	Workflows WorkflowStore
	Rules     RuleStore
	Tasks     TaskStore
	History   HistoryStore
}

// Config carries the engine's timing knobs.
type Config struct {
	// EscalationTimeout is how long a task may stay pending before the
	// escalation sweep reassigns it.
	EscalationTimeout time.Duration

	// ReminderWindow is how long after notification a pending task waits
	// before the reminder sweep nudges the approver.
	ReminderWindow time.Duration

	// CacheTTL bounds staleness of the per-company workflow template cache.
	CacheTTL time.Duration
}

// Engine is the approval workflow state machine. All expense status
// transitions and task decisions go through it; every transition runs inside
// a transaction with conditional updates guarding against concurrent
// writers.
type Engine struct {
	db        TxRunner
	expenses  ExpenseStore
	workflows WorkflowStore
	rules     RuleStore
	tasks     TaskStore
	history   HistoryStore
	directory directory.Service
	currency  currency.Converter
	notifier  Notifier
	cache     *templateCache
	clock     Clock
	logger    *zap.Logger
	cfg       Config
}

// New wires an Engine from its stores and collaborators.
func New(stores Stores, dir directory.Service, conv currency.Converter, notifier Notifier, clock Clock, logger *zap.Logger, cfg Config) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		db:        stores.DB,
		expenses:  stores.Expenses,
		workflows: stores.Workflows,
		rules:     stores.Rules,
		tasks:     stores.Tasks,
		history:   stores.History,
		directory: dir,
		currency:  conv,
		notifier:  notifier,
		cache:     newTemplateCache(cfg.CacheTTL, clock),
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// effects accumulates side work decided inside a transaction but performed
// only after it commits: notifications to dispatch and tasks to stamp as
// notified.
type effects struct {
	notifications []*models.Notification
	notifiedTasks []*models.ApprovalTask
}

// Submit moves a draft expense into the approval pipeline: it normalizes the
// amount into company currency, selects a workflow, applies the company's
// rules, and materializes the first step that yields approvers. An expense
// whose every step resolves empty is approved outright.
func (e *Engine) Submit(ctx context.Context, expenseID, actorID int64) (*models.Expense, error) {
	exp, err := e.expenses.GetByID(nil, expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense %d: %w", expenseID, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("expense %d: %w", expenseID, ErrExpenseNotFound)
	}
	if exp.UserID != actorID {
		return nil, fmt.Errorf("user %d does not own expense %d: %w", actorID, expenseID, ErrNotAuthorized)
	}
	if !exp.CanBeSubmitted() {
		return nil, fmt.Errorf("expense %d is %s: %w", expenseID, exp.Status, ErrInvalidState)
	}

	submitter, err := e.directory.GetUser(exp.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submitter %d: %w", exp.UserID, err)
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter %d: %w", exp.UserID, ErrValidation)
	}

	amountCCY, rate, err := e.currency.Normalize(exp.Amount, exp.Currency, exp.CompanyID)
	if err != nil {
		// Conversion failure degrades to the raw amount rather than
		// blocking submission.
		e.logger.Warn("Currency normalization failed, using raw amount",
			zap.Int64("expense_id", exp.ID),
			zap.String("currency", exp.Currency),
			zap.Error(err))
		amountCCY, rate = exp.Amount, decimal.NewFromInt(1)
	}
	exp.AmountCompanyCCY = amountCCY
	exp.ExchangeRate = rate

	wf, err := e.selectWorkflow(exp)
	if err != nil {
		return nil, err
	}

	outcome, err := e.applyRules(exp, submitter, wf)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var fx effects

	err = e.db.WithTransaction(func(tx *sql.Tx) error {
		if outcome.AutoApproved {
			ok, err := e.expenses.MarkApproved(tx, exp.ID, &wf.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("expense %d left draft concurrently: %w", exp.ID, ErrConflict)
			}
			if err := e.recordHistory(tx, exp.ID, actorID, models.HistorySubmitted,
				models.StatusDraft, models.StatusSubmitted, nil, "", nil, now); err != nil {
				return err
			}
			meta := map[string]interface{}{"rule_id": outcome.AutoApproveRule.ID, "rule_name": outcome.AutoApproveRule.Name}
			if err := e.recordHistory(tx, exp.ID, actorID, models.HistoryAutoApproved,
				models.StatusSubmitted, models.StatusApproved, nil, "", meta, now); err != nil {
				return err
			}
			fx.notifications = append(fx.notifications, e.submitterNotification(exp, models.NotifyApproved,
				"Expense approved", fmt.Sprintf("Expense %s was approved automatically by rule %q.", exp.RequestNumber, outcome.AutoApproveRule.Name)))
			return nil
		}

		ok, err := e.expenses.BeginApproval(tx, exp.ID, wf.ID, 0, amountCCY, rate, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("expense %d left draft concurrently: %w", exp.ID, ErrConflict)
		}
		if err := e.recordHistory(tx, exp.ID, actorID, models.HistorySubmitted,
			models.StatusDraft, models.StatusInApproval, nil, "", nil, now); err != nil {
			return err
		}

		exp.WorkflowID = &wf.ID
		exp.Status = models.StatusInApproval
		return e.advance(tx, exp, submitter, outcome, 0, exp.AmountCompanyCCY, actorID, now, &fx)
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(&fx)
	return e.reload(expenseID)
}

// ProcessApproval records one approver's decision on a pending task and
// drives the consequences: advancing past a fully approved step, or
// rejecting the whole expense. The task decision and every downstream
// mutation commit in one transaction.
func (e *Engine) ProcessApproval(ctx context.Context, taskID, actorID int64, decision, comments string, approvedAmount *decimal.Decimal) (*models.Expense, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("unknown decision %q: %w", decision, ErrValidation)
	}
	if decision == DecisionReject && comments == "" {
		return nil, fmt.Errorf("rejection requires comments: %w", ErrValidation)
	}

	task, err := e.tasks.GetByID(nil, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}
	if task.ApproverID != actorID {
		return nil, fmt.Errorf("user %d is not the approver of task %d: %w", actorID, taskID, ErrNotAuthorized)
	}
	if task.Status != models.TaskPending {
		return nil, fmt.Errorf("task %d is %s: %w", taskID, task.Status, ErrInvalidState)
	}

	exp, err := e.expenses.GetByID(nil, task.ExpenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense %d: %w", task.ExpenseID, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("expense %d: %w", task.ExpenseID, ErrExpenseNotFound)
	}
	if exp.IsTerminal() {
		return nil, fmt.Errorf("expense %d is %s: %w", exp.ID, exp.Status, ErrInvalidState)
	}

	if approvedAmount != nil && decision == DecisionApprove {
		if approvedAmount.IsNegative() || approvedAmount.GreaterThan(exp.AmountCompanyCCY) {
			return nil, fmt.Errorf("approved amount out of range: %w", ErrValidation)
		}
	}

	now := e.clock.Now()
	var fx effects

	err = e.db.WithTransaction(func(tx *sql.Tx) error {
		switch decision {
		case DecisionReject:
			return e.reject(tx, exp, task, actorID, comments, now, &fx)
		default:
			return e.approve(tx, exp, task, actorID, comments, approvedAmount, now, &fx)
		}
	})
	if err != nil {
		return nil, err
	}

	e.dispatch(&fx)
	return e.reload(exp.ID)
}

func (e *Engine) reject(tx *sql.Tx, exp *models.Expense, task *models.ApprovalTask, actorID int64, comments string, now time.Time, fx *effects) error {
	ok, err := e.tasks.Decide(tx, task.ID, models.TaskRejected, comments, nil, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %d decided concurrently: %w", task.ID, ErrConflict)
	}

	ok, err = e.expenses.MarkRejected(tx, exp.ID, comments, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("expense %d left approval concurrently: %w", exp.ID, ErrConflict)
	}

	if _, err := e.tasks.SkipPendingForExpense(tx, exp.ID, "expense rejected", now); err != nil {
		return err
	}

	step := task.StepNumber
	if err := e.recordHistory(tx, exp.ID, actorID, models.HistoryRejected,
		exp.Status, models.StatusRejected, &step, comments, nil, now); err != nil {
		return err
	}

	fx.notifications = append(fx.notifications, e.submitterNotification(exp, models.NotifyRejected,
		"Expense rejected", fmt.Sprintf("Expense %s was rejected: %s", exp.RequestNumber, comments)))
	return nil
}

func (e *Engine) approve(tx *sql.Tx, exp *models.Expense, task *models.ApprovalTask, actorID int64, comments string, approvedAmount *decimal.Decimal, now time.Time, fx *effects) error {
	ok, err := e.tasks.Decide(tx, task.ID, models.TaskApproved, comments, approvedAmount, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("task %d decided concurrently: %w", task.ID, ErrConflict)
	}

	step := task.StepNumber
	var meta map[string]interface{}
	if approvedAmount != nil {
		meta = map[string]interface{}{"approved_amount": approvedAmount.String()}
	}
	if err := e.recordHistory(tx, exp.ID, actorID, models.HistoryApproved,
		exp.Status, exp.Status, &step, comments, meta, now); err != nil {
		return err
	}

	pending, err := e.tasks.CountPendingForStep(tx, exp.ID, task.StepNumber)
	if err != nil {
		return err
	}
	if pending > 0 {
		// Siblings at this step still undecided.
		return nil
	}

	submitter, err := e.directory.GetUser(exp.UserID)
	if err != nil {
		return fmt.Errorf("failed to load submitter %d: %w", exp.UserID, err)
	}
	if exp.WorkflowID == nil {
		return fmt.Errorf("expense %d has no workflow: %w", exp.ID, ErrInvalidState)
	}
	wf, err := e.workflows.GetByID(*exp.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %d: %w", *exp.WorkflowID, err)
	}
	if wf == nil {
		return fmt.Errorf("workflow %d: %w", *exp.WorkflowID, ErrWorkflowNotFound)
	}
	outcome, err := e.applyRules(exp, submitter, wf)
	if err != nil {
		return err
	}

	// A rule activated after submission can auto-approve at advancement time.
	if outcome.AutoApproved {
		ok, err := e.expenses.MarkApproved(tx, exp.ID, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Warn("Expense already terminal while auto-approving",
				zap.Int64("expense_id", exp.ID))
			return nil
		}
		meta := map[string]interface{}{"rule_id": outcome.AutoApproveRule.ID, "rule_name": outcome.AutoApproveRule.Name}
		if err := e.recordHistory(tx, exp.ID, actorID, models.HistoryAutoApproved,
			exp.Status, models.StatusApproved, nil, "", meta, now); err != nil {
			return err
		}
		fx.notifications = append(fx.notifications, e.submitterNotification(exp, models.NotifyApproved,
			"Expense approved", fmt.Sprintf("Expense %s was approved automatically by rule %q.", exp.RequestNumber, outcome.AutoApproveRule.Name)))
		return nil
	}

	effectiveApproved := exp.AmountCompanyCCY
	if approvedAmount != nil {
		effectiveApproved = *approvedAmount
	}

	return e.advance(tx, exp, submitter, outcome, task.StepNumber, effectiveApproved, actorID, now, fx)
}

// advance walks the effective step list past fromStep, materializing the
// first step that yields approvers and approving the expense when none
// remains. Steps can be skipped three ways: applicability bounds, the
// per-step auto-approve threshold, and the percentage threshold against the
// amount approved so far.
func (e *Engine) advance(tx *sql.Tx, exp *models.Expense, submitter *models.User, outcome *ruleOutcome, fromStep int, approvedSoFar decimal.Decimal, actorID int64, now time.Time, fx *effects) error {
	steps := make([]*models.WorkflowStep, len(outcome.Steps))
	copy(steps, outcome.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })

	for _, step := range steps {
		if step.StepNumber <= fromStep {
			continue
		}

		skip := ""
		switch {
		case !step.AppliesTo(exp):
			skip = "outside step bounds"
		case !outcome.RequireApproval && step.ShouldAutoApprove(exp.AmountCompanyCCY):
			skip = "amount within auto-approve threshold"
		case fromStep > 0 && step.WithinApprovedThreshold(approvedSoFar, exp.AmountCompanyCCY):
			skip = "approved amount within step threshold"
		}
		if skip != "" {
			num := step.StepNumber
			if err := e.recordHistory(tx, exp.ID, actorID, models.HistorySkipped,
				exp.Status, exp.Status, &num, skip, nil, now); err != nil {
				return err
			}
			continue
		}

		pending, err := e.tasks.CountPendingForStep(tx, exp.ID, step.StepNumber)
		if err != nil {
			return err
		}
		if pending > 0 {
			// Another writer already advanced to this step.
			return nil
		}

		created, err := e.materializeStep(tx, exp, step, submitter, now)
		if err != nil {
			return err
		}
		if len(created) == 0 {
			num := step.StepNumber
			if err := e.recordHistory(tx, exp.ID, actorID, models.HistorySkipped,
				exp.Status, exp.Status, &num, "no approvers resolved", nil, now); err != nil {
				return err
			}
			continue
		}

		if err := e.expenses.SetCurrentStep(tx, exp.ID, step.StepNumber, now); err != nil {
			return err
		}
		num := step.StepNumber
		meta := map[string]interface{}{"approvers": len(created)}
		if err := e.recordHistory(tx, exp.ID, actorID, models.HistoryAssigned,
			exp.Status, exp.Status, &num, "", meta, now); err != nil {
			return err
		}

		for _, t := range created {
			fx.notifications = append(fx.notifications, e.approverNotification(exp, t))
			fx.notifiedTasks = append(fx.notifiedTasks, t)
		}
		return nil
	}

	// Chain exhausted: nothing left to approve.
	ok, err := e.expenses.MarkApproved(tx, exp.ID, nil, now)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else reached a terminal state first. The conditional
		// update makes this benign.
		e.logger.Warn("Expense already terminal while finalizing approval",
			zap.Int64("expense_id", exp.ID))
		return nil
	}
	if err := e.recordHistory(tx, exp.ID, actorID, models.HistoryApproved,
		exp.Status, models.StatusApproved, nil, "", nil, now); err != nil {
		return err
	}
	fx.notifications = append(fx.notifications, e.submitterNotification(exp, models.NotifyApproved,
		"Expense approved", fmt.Sprintf("Expense %s has been fully approved.", exp.RequestNumber)))
	return nil
}

// PendingApprovals lists an approver's open tasks, newest first.
func (e *Engine) PendingApprovals(ctx context.Context, approverID int64, limit, offset int) ([]*models.ApprovalTask, error) {
	return e.tasks.PendingForApprover(approverID, limit, offset)
}

// Timeline returns the full audit trail for an expense.
func (e *Engine) Timeline(ctx context.Context, expenseID int64) ([]*models.HistoryEntry, error) {
	exp, err := e.expenses.GetByID(nil, expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expense %d: %w", expenseID, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("expense %d: %w", expenseID, ErrExpenseNotFound)
	}
	return e.history.ByExpense(expenseID)
}

func (e *Engine) recordHistory(tx *sql.Tx, expenseID, actorID int64, action, prev, next string, stepNumber *int, comments string, meta map[string]interface{}, now time.Time) error {
	entry := &models.HistoryEntry{
		ExpenseID:      expenseID,
		ActorID:        actorID,
		Action:         action,
		PreviousStatus: prev,
		NewStatus:      next,
		StepNumber:     stepNumber,
		Comments:       comments,
		CreatedAt:      now,
	}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode history metadata: %w", err)
		}
		entry.Metadata = string(raw)
	}
	if err := e.history.Create(tx, entry); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

func (e *Engine) submitterNotification(exp *models.Expense, kind, title, message string) *models.Notification {
	id := exp.ID
	return &models.Notification{
		UserID:    exp.UserID,
		ExpenseID: &id,
		Kind:      kind,
		Title:     title,
		Message:   message,
		CreatedAt: e.clock.Now(),
	}
}

func (e *Engine) approverNotification(exp *models.Expense, task *models.ApprovalTask) *models.Notification {
	id := exp.ID
	return &models.Notification{
		UserID:    task.ApproverID,
		ExpenseID: &id,
		Kind:      models.NotifyApprovalRequest,
		Title:     "Approval requested",
		Message: fmt.Sprintf("Expense %s (%s %s) awaits your approval at step %d.",
			exp.RequestNumber, exp.Amount.StringFixed(2), exp.Currency, task.StepNumber),
		CreatedAt: e.clock.Now(),
	}
}

// dispatch performs post-commit side effects. Failures here are logged and
// dropped: notifications are not authoritative state.
func (e *Engine) dispatch(fx *effects) {
	for _, n := range fx.notifications {
		e.notifier.Notify(n)
	}
	now := e.clock.Now()
	for _, t := range fx.notifiedTasks {
		if err := e.tasks.MarkNotified(nil, t.ID, now); err != nil {
			e.logger.Warn("Failed to stamp task notification time",
				zap.Int64("task_id", t.ID), zap.Error(err))
		}
	}
}

func (e *Engine) reload(expenseID int64) (*models.Expense, error) {
	exp, err := e.expenses.GetByID(nil, expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload expense %d: %w", expenseID, err)
	}
	if exp == nil {
		return nil, fmt.Errorf("expense %d: %w", expenseID, ErrExpenseNotFound)
	}
	return exp, nil
}
