package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/expenseflow/approval-engine/internal/models"
	"go.uber.org/zap"
)

// NotificationRepository handles notification records
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a notification record
func (r *NotificationRepository) Create(tx *sql.Tx, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, expense_id, kind, title, message, is_read, is_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(r.db, tx).Exec(query,
		n.UserID, n.ExpenseID, n.Kind, n.Title, n.Message, n.IsRead, n.IsSent,
	)
	if err != nil {
		r.logger.Error("Failed to create notification", zap.Int64("user_id", n.UserID), zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	return nil
}

// MarkSent flags a notification as delivered on its outward channel
func (r *NotificationRepository) MarkSent(id int64) error {
	if _, err := r.db.Exec("UPDATE notifications SET is_sent = 1 WHERE id = ?", id); err != nil {
		r.logger.Error("Failed to mark notification sent", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkRead flags a notification as read by its recipient
func (r *NotificationRepository) MarkRead(id int64) error {
	if _, err := r.db.Exec("UPDATE notifications SET is_read = 1 WHERE id = ?", id); err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// UnreadForUser returns a user's unread notifications, newest first
func (r *NotificationRepository) UnreadForUser(userID int64) ([]*models.Notification, error) {
	query := `
		SELECT id, user_id, expense_id, kind, title, message, is_read, is_sent, created_at
		FROM notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		var expenseID sql.NullInt64

		err := rows.Scan(&n.ID, &n.UserID, &expenseID, &n.Kind, &n.Title, &n.Message, &n.IsRead, &n.IsSent, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if expenseID.Valid {
			n.ExpenseID = &expenseID.Int64
		}
		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// PruneRead deletes read notifications older than the cutoff
func (r *NotificationRepository) PruneRead(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM notifications WHERE is_read = 1 AND created_at < ?", cutoff)
	if err != nil {
		r.logger.Error("Failed to prune notifications", zap.Error(err))
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return result.RowsAffected()
}
