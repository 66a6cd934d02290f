package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expenseflow/approval-engine/internal/engine"
	"go.uber.org/zap"
)

// Sweeper periodically runs the engine's escalation and reminder sweeps.
// Both sweeps are idempotent, so a sweep interrupted by shutdown is simply
// retried on the next tick.
type Sweeper struct {
	engine   *engine.Engine
	logger   *zap.Logger
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a Sweeper ticking at the given interval.
func NewSweeper(eng *engine.Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		engine:   eng,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("sweeper is already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	s.done = make(chan struct{})

	s.logger.Info("Sweeper started", zap.Duration("interval", s.interval))
	go s.loop(ctx)

	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Name implements Worker.
func (s *Sweeper) Name() string { return "sweeper" }

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	escalated, err := s.engine.RunEscalationSweep(ctx)
	if err != nil {
		s.logger.Error("Escalation sweep failed", zap.Error(err))
	} else if escalated > 0 {
		s.logger.Info("Escalation sweep done", zap.Int("escalated", escalated))
	}

	reminded, err := s.engine.RunReminderSweep(ctx)
	if err != nil {
		s.logger.Error("Reminder sweep failed", zap.Error(err))
	} else if reminded > 0 {
		s.logger.Info("Reminder sweep done", zap.Int("reminded", reminded))
	}
}
