package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/metrics"
	"github.com/laityfaye/portfolio-pay/internal/core/notifications"
)

const (
	MaxAttempts = 5
	// upper bound of events relayed per tick
	batchSize = 50
)

// OutboxStore leases events for delivery. ClaimNext returns nil, nil when no
// event is due.
type OutboxStore interface {
	ClaimNext(ctx context.Context) (*domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextRunAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int) error
}

// OutboxWorker relays committed payment events to a Publisher.
type OutboxWorker struct {
	store    OutboxStore
	pub      notifications.Publisher
	log      *zap.Logger
	interval time.Duration
	now      func() time.Time
}

func NewOutboxWorker(store OutboxStore, pub notifications.Publisher, logger *zap.Logger, interval time.Duration) *OutboxWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxWorker{
		store:    store,
		pub:      pub,
		log:      logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs the worker in its own goroutine until ctx is cancelled. The returned
// channel is closed once the loop has exited.
func (w *OutboxWorker) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return done
}

func (w *OutboxWorker) Run(ctx context.Context) {
	w.log.Info("Outbox worker started", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("Outbox worker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *OutboxWorker) drain(ctx context.Context) {
	for i := 0; i < batchSize && ctx.Err() == nil; i++ {
		if !w.ProcessNext(ctx) {
			return
		}
	}
}

// ProcessNext relays one due event. It reports whether an event was claimed.
func (w *OutboxWorker) ProcessNext(ctx context.Context) bool {
	event, err := w.store.ClaimNext(ctx)
	if err != nil {
		w.log.Error("Outbox: failed to claim event", zap.Error(err))
		return false
	}
	if event == nil {
		return false
	}

	logger := w.log.With(
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("key", event.Key),
	)

	if pubErr := w.pub.Publish(ctx, *event); pubErr != nil {
		attempts := event.Attempts + 1
		if attempts >= MaxAttempts {
			if err := w.store.MarkFailed(ctx, event.ID, attempts); err != nil {
				logger.Error("Outbox: failed to mark event failed", zap.Error(err))
			}
			metrics.RecordOutbox(event.EventType, "failed")
			logger.Error("Outbox: event marked FAILED (max attempts reached)", zap.Error(pubErr), zap.Int("attempts", attempts))
			return true
		}

		nextRun := w.now().Add(Backoff(event.Attempts))
		if err := w.store.Reschedule(ctx, event.ID, attempts, nextRun); err != nil {
			logger.Error("Outbox: failed to reschedule event", zap.Error(err))
		}
		metrics.RecordOutbox(event.EventType, "retry")
		logger.Warn("Outbox: delivery failed, retry scheduled", zap.Error(pubErr), zap.Int("attempts", attempts), zap.Time("next_run", nextRun))
		return true
	}

	if err := w.store.MarkSent(ctx, event.ID); err != nil {
		logger.Error("Outbox: failed to mark event sent", zap.Error(err))
	}
	metrics.RecordOutbox(event.EventType, "sent")
	logger.Info("Outbox: event delivered")
	return true
}

// Backoff is the delay before the next try of an event that failed `attempts` times before.
func Backoff(attempts int) time.Duration {
	return time.Duration(attempts*10+10) * time.Second
}
