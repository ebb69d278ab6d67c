package notifications

import (
	"context"

	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

// Publisher delivers one outbox event downstream. A returned error makes the
// outbox worker retry the event later.
type Publisher interface {
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

// LogPublisher only logs events. Used when no broker or webhook is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	p.log.Info("Payment event",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("key", event.Key),
		zap.ByteString("payload", event.Payload),
	)
	return nil
}
