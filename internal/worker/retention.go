package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/expenseflow/approval-engine/internal/repository"
	"github.com/expenseflow/approval-engine/pkg/database"
	"go.uber.org/zap"
)

// Retention prunes aged side data: read notifications, and audit history of
// expenses that reached a terminal state longer than the retention age ago.
// Workflow state itself is never pruned.
type Retention struct {
	db            *database.DB
	expenses      *repository.ExpenseRepository
	history       *repository.HistoryRepository
	notifications *repository.NotificationRepository
	logger        *zap.Logger

	age      time.Duration
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRetention creates a Retention worker pruning data older than age every
// interval.
func NewRetention(
	db *database.DB,
	expenses *repository.ExpenseRepository,
	history *repository.HistoryRepository,
	notifications *repository.NotificationRepository,
	age, interval time.Duration,
	logger *zap.Logger,
) *Retention {
	return &Retention{
		db:            db,
		expenses:      expenses,
		history:       history,
		notifications: notifications,
		logger:        logger,
		age:           age,
		interval:      interval,
	}
}

// Start launches the retention loop.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("retention worker is already running")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.isRunning = true
	r.done = make(chan struct{})

	r.logger.Info("Retention worker started",
		zap.Duration("age", r.age),
		zap.Duration("interval", r.interval))
	go r.loop(ctx)

	return nil
}

// Stop halts the retention loop.
func (r *Retention) Stop() {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
}

// Name implements Worker.
func (r *Retention) Name() string { return "retention" }

func (r *Retention) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Retention) runOnce() {
	cutoff := time.Now().Add(-r.age)

	pruned, err := r.notifications.PruneRead(cutoff)
	if err != nil {
		r.logger.Error("Failed to prune notifications", zap.Error(err))
	} else if pruned > 0 {
		r.logger.Info("Pruned read notifications", zap.Int64("count", pruned))
	}

	ids, err := r.expenses.TerminalIDsOlderThan(cutoff)
	if err != nil {
		r.logger.Error("Failed to list expired expenses", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	err = r.db.WithTransaction(func(tx *sql.Tx) error {
		n, err := r.history.PruneForExpenses(tx, ids)
		if err != nil {
			return err
		}
		if n > 0 {
			r.logger.Info("Pruned approval history",
				zap.Int("expenses", len(ids)),
				zap.Int64("entries", n))
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to prune history", zap.Error(err))
	}
}
