package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TaskRepository handles approval task database operations
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `
	id, expense_id, workflow_step_id, step_number, approver_id, approver_type,
	status, comments, approved_amount, created_at, notified_at, reminded_at, decided_at
`

// Create persists a new approval task
func (r *TaskRepository) Create(tx *sql.Tx, t *models.ApprovalTask) error {
	var approvedAmount any
	if t.ApprovedAmount != nil {
		approvedAmount = t.ApprovedAmount.String()
	}

	query := `
		INSERT INTO approval_tasks (
			expense_id, workflow_step_id, step_number, approver_id, approver_type,
			status, comments, approved_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		t.ExpenseID, t.WorkflowStepID, t.StepNumber, t.ApproverID, t.ApproverType,
		t.Status, t.Comments, approvedAmount,
	)
	if err != nil {
		r.logger.Error("Failed to create approval task",
			zap.Int64("expense_id", t.ExpenseID),
			zap.Int("step_number", t.StepNumber),
			zap.Error(err))
		return fmt.Errorf("failed to create approval task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	t.ID = id
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*models.ApprovalTask, error) {
	var t models.ApprovalTask
	var workflowStepID sql.NullInt64
	var approvedAmount sql.NullString
	var notifiedAt, remindedAt, decidedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.ExpenseID, &workflowStepID, &t.StepNumber, &t.ApproverID,
		&t.ApproverType, &t.Status, &t.Comments, &approvedAmount,
		&t.CreatedAt, &notifiedAt, &remindedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}

	if workflowStepID.Valid {
		t.WorkflowStepID = &workflowStepID.Int64
	}
	if approvedAmount.Valid {
		d, err := decimal.NewFromString(approvedAmount.String)
		if err != nil {
			return nil, fmt.Errorf("invalid approved_amount for task %d: %w", t.ID, err)
		}
		t.ApprovedAmount = &d
	}
	if notifiedAt.Valid {
		t.NotifiedAt = &notifiedAt.Time
	}
	if remindedAt.Valid {
		t.RemindedAt = &remindedAt.Time
	}
	if decidedAt.Valid {
		t.DecidedAt = &decidedAt.Time
	}

	return &t, nil
}

func (r *TaskRepository) queryTasks(query string, args ...any) ([]*models.ApprovalTask, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.ApprovalTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetByID retrieves a task by ID. Returns nil when no row matches.
func (r *TaskRepository) GetByID(tx *sql.Tx, id int64) (*models.ApprovalTask, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE id = ?`

	t, err := scanTask(conn(r.db, tx).QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// Decide resolves a pending task to approved or rejected. The status
// precondition in the WHERE clause is the compare-and-swap guard: a false
// return means another actor resolved the task first.
func (r *TaskRepository) Decide(
	tx *sql.Tx,
	id int64,
	status, comments string,
	approvedAmount *decimal.Decimal,
	now time.Time,
) (bool, error) {
	var amount any
	if approvedAmount != nil {
		amount = approvedAmount.String()
	}

	query := `
		UPDATE approval_tasks
		SET status = ?, comments = ?, approved_amount = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := conn(r.db, tx).Exec(query, status, comments, amount, now, id, models.TaskPending)
	if err != nil {
		r.logger.Error("Failed to decide task", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to decide task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Skip marks a single pending task skipped. Same conditional-update guard as
// Decide, so a task cannot be both skipped and approved.
func (r *TaskRepository) Skip(tx *sql.Tx, id int64, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?, comments = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := conn(r.db, tx).Exec(query, models.TaskSkipped, reason, now, id, models.TaskPending)
	if err != nil {
		r.logger.Error("Failed to skip task", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to skip task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SkipPendingForExpense skips every remaining pending task of an expense
func (r *TaskRepository) SkipPendingForExpense(tx *sql.Tx, expenseID int64, reason string, now time.Time) (int64, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?, comments = ?, decided_at = ?
		WHERE expense_id = ? AND status = ?
	`

	result, err := conn(r.db, tx).Exec(query, models.TaskSkipped, reason, now, expenseID, models.TaskPending)
	if err != nil {
		r.logger.Error("Failed to skip pending tasks", zap.Int64("expense_id", expenseID), zap.Error(err))
		return 0, fmt.Errorf("failed to skip pending tasks: %w", err)
	}

	return result.RowsAffected()
}

// CountPendingForStep counts pending sibling tasks of one step of an
// expense. Runs inside the caller's transaction when advancing.
func (r *TaskRepository) CountPendingForStep(tx *sql.Tx, expenseID int64, stepNumber int) (int, error) {
	query := `
		SELECT COUNT(*) FROM approval_tasks
		WHERE expense_id = ? AND step_number = ? AND status = ?
	`

	var count int
	err := conn(r.db, tx).QueryRow(query, expenseID, stepNumber, models.TaskPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return count, nil
}

// CountPendingForExpense counts all pending tasks of an expense
func (r *TaskRepository) CountPendingForExpense(tx *sql.Tx, expenseID int64) (int, error) {
	query := `SELECT COUNT(*) FROM approval_tasks WHERE expense_id = ? AND status = ?`

	var count int
	err := conn(r.db, tx).QueryRow(query, expenseID, models.TaskPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return count, nil
}

// ExistsForStep reports whether the approver already holds a task for the
// step, regardless of status. Backs the (expense, step, approver) uniqueness
// check before fan-out and escalation.
func (r *TaskRepository) ExistsForStep(tx *sql.Tx, expenseID int64, stepNumber int, approverID int64) (bool, error) {
	query := `
		SELECT COUNT(*) FROM approval_tasks
		WHERE expense_id = ? AND step_number = ? AND approver_id = ?
	`

	var count int
	err := conn(r.db, tx).QueryRow(query, expenseID, stepNumber, approverID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return count > 0, nil
}

// PendingForApprover returns an approver's pending tasks, oldest first
func (r *TaskRepository) PendingForApprover(approverID int64, limit, offset int) ([]*models.ApprovalTask, error) {
	query := `
		SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE approver_id = ? AND status = ?
		ORDER BY created_at ASC
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = 50
	}
	return r.queryTasks(query, approverID, models.TaskPending, limit, offset)
}

// ByExpense returns every task of an expense in step order
func (r *TaskRepository) ByExpense(expenseID int64) ([]*models.ApprovalTask, error) {
	query := `
		SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE expense_id = ?
		ORDER BY step_number ASC, id ASC
	`
	return r.queryTasks(query, expenseID)
}

// PendingOlderThan returns pending tasks created before the cutoff
func (r *TaskRepository) PendingOlderThan(cutoff time.Time) ([]*models.ApprovalTask, error) {
	query := `
		SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC
	`
	return r.queryTasks(query, models.TaskPending, cutoff)
}

// DueForReminder returns pending tasks whose approver was notified before
// the cutoff and has not been reminded within the window.
func (r *TaskRepository) DueForReminder(cutoff time.Time) ([]*models.ApprovalTask, error) {
	query := `
		SELECT ` + taskColumns + ` FROM approval_tasks
		WHERE status = ?
			AND notified_at IS NOT NULL AND notified_at < ?
			AND (reminded_at IS NULL OR reminded_at < ?)
		ORDER BY created_at ASC
	`
	return r.queryTasks(query, models.TaskPending, cutoff, cutoff)
}

// MarkNotified stamps the notification time on a task
func (r *TaskRepository) MarkNotified(tx *sql.Tx, id int64, now time.Time) error {
	query := `UPDATE approval_tasks SET notified_at = ? WHERE id = ?`

	if _, err := conn(r.db, tx).Exec(query, now, id); err != nil {
		r.logger.Error("Failed to mark task notified", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark task notified: %w", err)
	}
	return nil
}

// MarkReminded stamps the reminder time on a task
func (r *TaskRepository) MarkReminded(tx *sql.Tx, id int64, now time.Time) error {
	query := `UPDATE approval_tasks SET reminded_at = ? WHERE id = ?`

	if _, err := conn(r.db, tx).Exec(query, now, id); err != nil {
		r.logger.Error("Failed to mark task reminded", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark task reminded: %w", err)
	}
	return nil
}

// StatsForApprover aggregates decision counts and average turnaround hours
// per status since the given time.
func (r *TaskRepository) StatsForApprover(approverID int64, since time.Time) ([]*models.ApproverStats, error) {
	query := `
		SELECT status, COUNT(*) AS count,
			AVG((julianday(COALESCE(decided_at, CURRENT_TIMESTAMP)) - julianday(created_at)) * 24) AS avg_hours
		FROM approval_tasks
		WHERE approver_id = ? AND created_at >= ?
		GROUP BY status
	`

	rows, err := r.db.Query(query, approverID, since)
	if err != nil {
		r.logger.Error("Failed to get approver stats", zap.Int64("approver_id", approverID), zap.Error(err))
		return nil, fmt.Errorf("failed to get approver stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.ApproverStats
	for rows.Next() {
		var s models.ApproverStats
		var avg sql.NullFloat64
		if err := rows.Scan(&s.Status, &s.Count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan approver stats: %w", err)
		}
		s.AvgHours = avg.Float64
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}
