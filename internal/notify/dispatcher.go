package notify

import (
	"context"
	"sync"

	"github.com/expenseflow/approval-engine/internal/directory"
	"github.com/expenseflow/approval-engine/internal/models"
	"github.com/expenseflow/approval-engine/internal/repository"
	"go.uber.org/zap"
)

// Channel delivers a notification to a user over one transport.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, user *models.User, n *models.Notification) error
}

// Dispatcher persists notifications and fans them out to delivery channels
// from a background loop. Notify never blocks the caller: when the queue is
// full the notification is still persisted, only its delivery is dropped.
type Dispatcher struct {
	store     *repository.NotificationRepository
	directory directory.Service
	channels  []Channel
	logger    *zap.Logger

	queue chan *models.Notification
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with a bounded delivery queue.
func NewDispatcher(store *repository.NotificationRepository, dir directory.Service, channels []Channel, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		directory: dir,
		channels:  channels,
		logger:    logger,
		queue:     make(chan *models.Notification, 256),
		stop:      make(chan struct{}),
	}
}

// Notify persists the notification and enqueues it for delivery. Implements
// the engine's Notifier.
func (d *Dispatcher) Notify(n *models.Notification) {
	if err := d.store.Create(nil, n); err != nil {
		d.logger.Error("Failed to persist notification",
			zap.Int64("user_id", n.UserID),
			zap.String("kind", n.Kind),
			zap.Error(err))
		return
	}

	select {
	case d.queue <- n:
	default:
		d.logger.Warn("Notification queue full, delivery dropped",
			zap.Int64("notification_id", n.ID))
	}
}

// Start runs the delivery loop until the context is canceled or Stop is
// called. Implements the worker manager's Worker.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case n := <-d.queue:
				d.deliver(ctx, n)
			}
		}
	}()
	return nil
}

// Stop shuts the delivery loop down and waits for it to drain the in-flight
// notification.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// Name implements the worker manager's Worker.
func (d *Dispatcher) Name() string { return "notification-dispatcher" }

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) {
	user, err := d.directory.GetUser(n.UserID)
	if err != nil || user == nil {
		d.logger.Warn("Notification recipient not found",
			zap.Int64("user_id", n.UserID), zap.Error(err))
		return
	}

	delivered := false
	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, user, n); err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.Int64("notification_id", n.ID),
				zap.Error(err))
			continue
		}
		delivered = true
	}

	if delivered {
		if err := d.store.MarkSent(n.ID); err != nil {
			d.logger.Warn("Failed to mark notification sent",
				zap.Int64("notification_id", n.ID), zap.Error(err))
		}
	}
}
