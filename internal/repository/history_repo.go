package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// HistoryRepository handles the append-only approval audit trail
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a history entry
func (r *HistoryRepository) Create(tx *sql.Tx, h *models.HistoryEntry) error {
	metadata := h.Metadata
	if metadata == "" {
		metadata = "{}"
	}

	query := `
		INSERT INTO approval_history (
			expense_id, actor_id, action, previous_status, new_status,
			step_number, comments, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		h.ExpenseID, h.ActorID, h.Action, h.PreviousStatus, h.NewStatus,
		h.StepNumber, h.Comments, metadata,
	)
	if err != nil {
		r.logger.Error("Failed to create history entry",
			zap.Int64("expense_id", h.ExpenseID),
			zap.String("action", h.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// ByExpense returns the full audit trail of an expense, oldest first
func (r *HistoryRepository) ByExpense(expenseID int64) ([]*models.HistoryEntry, error) {
	query := `
		SELECT id, expense_id, actor_id, action, previous_status, new_status,
			step_number, comments, metadata, created_at
		FROM approval_history
		WHERE expense_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.Int64("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		var stepNumber sql.NullInt64

		err := rows.Scan(
			&h.ID, &h.ExpenseID, &h.ActorID, &h.Action, &h.PreviousStatus,
			&h.NewStatus, &stepNumber, &h.Comments, &h.Metadata, &h.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		if stepNumber.Valid {
			n := int(stepNumber.Int64)
			h.StepNumber = &n
		}

		entries = append(entries, &h)
	}

	return entries, rows.Err()
}

// Analytics aggregates approval activity per action per day for a company
// since the given time.
func (r *HistoryRepository) Analytics(companyID int64, since time.Time) ([]*models.AnalyticsRow, error) {
	query := `
		SELECT h.action, DATE(h.created_at) AS day, COUNT(*) AS count,
			AVG(CAST(e.amount_company_ccy AS REAL)) AS avg_amount
		FROM approval_history h
		JOIN expenses e ON e.id = h.expense_id
		WHERE e.company_id = ? AND h.created_at >= ?
		GROUP BY h.action, DATE(h.created_at)
		ORDER BY day ASC, h.action ASC
	`

	rows, err := r.db.Query(query, companyID, since)
	if err != nil {
		r.logger.Error("Failed to aggregate history", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to aggregate history: %w", err)
	}
	defer rows.Close()

	var result []*models.AnalyticsRow
	for rows.Next() {
		var row models.AnalyticsRow
		var avg sql.NullFloat64
		if err := rows.Scan(&row.Action, &row.Date, &row.Count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan analytics row: %w", err)
		}
		row.AvgAmount = avg.Float64
		result = append(result, &row)
	}

	return result, rows.Err()
}

// PruneForExpenses deletes the audit trail of the given (terminal) expenses.
// Only the retention sweep calls this.
func (r *HistoryRepository) PruneForExpenses(tx *sql.Tx, expenseIDs []int64) (int64, error) {
	var total int64
	for _, id := range expenseIDs {
		result, err := conn(r.db, tx).Exec("DELETE FROM approval_history WHERE expense_id = ?", id)
		if err != nil {
			return total, fmt.Errorf("failed to prune history for expense %d: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
