package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExpenseRepository handles expense database operations
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

const expenseColumns = `
	id, request_number, user_id, company_id, workflow_id, amount, currency,
	amount_company_ccy, exchange_rate, category_id, description, status,
	current_step, rejection_reason, submitted_at, approved_at, rejected_at,
	created_at, updated_at
`

// Create creates a new expense in draft status
func (r *ExpenseRepository) Create(tx *sql.Tx, e *models.Expense) error {
	query := `
		INSERT INTO expenses (
			request_number, user_id, company_id, amount, currency,
			amount_company_ccy, exchange_rate, category_id, description, status, current_step
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		e.RequestNumber,
		e.UserID,
		e.CompanyID,
		e.Amount,
		e.Currency,
		e.AmountCompanyCCY,
		e.ExchangeRate,
		e.CategoryID,
		e.Description,
		e.Status,
		e.CurrentStep,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	e.ID = id
	return nil
}

func scanExpense(row interface{ Scan(...any) error }) (*models.Expense, error) {
	var e models.Expense
	var workflowID sql.NullInt64
	var submittedAt, approvedAt, rejectedAt sql.NullTime

	err := row.Scan(
		&e.ID,
		&e.RequestNumber,
		&e.UserID,
		&e.CompanyID,
		&workflowID,
		&e.Amount,
		&e.Currency,
		&e.AmountCompanyCCY,
		&e.ExchangeRate,
		&e.CategoryID,
		&e.Description,
		&e.Status,
		&e.CurrentStep,
		&e.RejectionReason,
		&submittedAt,
		&approvedAt,
		&rejectedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if workflowID.Valid {
		e.WorkflowID = &workflowID.Int64
	}
	if submittedAt.Valid {
		e.SubmittedAt = &submittedAt.Time
	}
	if approvedAt.Valid {
		e.ApprovedAt = &approvedAt.Time
	}
	if rejectedAt.Valid {
		e.RejectedAt = &rejectedAt.Time
	}

	return &e, nil
}

// GetByID retrieves an expense by ID. Returns nil when no row matches.
func (r *ExpenseRepository) GetByID(tx *sql.Tx, id int64) (*models.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	e, err := scanExpense(conn(r.db, tx).QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// BeginApproval binds the workflow, stamps submission fields and moves the
// expense from draft into approval. Returns false when the expense was not
// in draft (conditional update guard).
func (r *ExpenseRepository) BeginApproval(
	tx *sql.Tx,
	id, workflowID int64,
	step int,
	amountCCY, rate decimal.Decimal,
	now time.Time,
) (bool, error) {
	query := `
		UPDATE expenses
		SET workflow_id = ?, status = ?, current_step = ?,
			amount_company_ccy = ?, exchange_rate = ?,
			submitted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := conn(r.db, tx).Exec(query,
		workflowID, models.StatusInApproval, step,
		amountCCY, rate, now, now, id, models.StatusDraft,
	)
	if err != nil {
		r.logger.Error("Failed to begin approval", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to begin approval: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkApproved transitions the expense to approved exactly once. The
// conditional status check makes concurrent duplicate approvals safe.
func (r *ExpenseRepository) MarkApproved(tx *sql.Tx, id int64, workflowID *int64, now time.Time) (bool, error) {
	query := `
		UPDATE expenses
		SET status = ?, workflow_id = COALESCE(?, workflow_id),
			submitted_at = COALESCE(submitted_at, ?),
			approved_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		models.StatusApproved, workflowID, now, now, now, id,
		models.StatusDraft, models.StatusSubmitted, models.StatusInApproval,
	)
	if err != nil {
		r.logger.Error("Failed to mark expense approved", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark expense approved: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkRejected transitions the expense to rejected with the given reason.
func (r *ExpenseRepository) MarkRejected(tx *sql.Tx, id int64, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE expenses
		SET status = ?, rejection_reason = ?, rejected_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := conn(r.db, tx).Exec(query,
		models.StatusRejected, reason, now, now, id, models.StatusInApproval,
	)
	if err != nil {
		r.logger.Error("Failed to mark expense rejected", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark expense rejected: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SetCurrentStep moves the expense's progress pointer
func (r *ExpenseRepository) SetCurrentStep(tx *sql.Tx, id int64, step int, now time.Time) error {
	query := `UPDATE expenses SET current_step = ?, updated_at = ? WHERE id = ?`

	if _, err := conn(r.db, tx).Exec(query, step, now, id); err != nil {
		r.logger.Error("Failed to set current step", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set current step: %w", err)
	}
	return nil
}

// TerminalIDsOlderThan returns ids of terminal expenses whose last update is
// older than the cutoff. Used by the retention sweep.
func (r *ExpenseRepository) TerminalIDsOlderThan(cutoff time.Time) ([]int64, error) {
	query := `
		SELECT id FROM expenses
		WHERE status IN (?, ?, ?) AND updated_at < ?
	`

	rows, err := r.db.Query(query, models.StatusApproved, models.StatusRejected, models.StatusPaid, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal expenses: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expense id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
