package domain

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// Event names published for downstream consumers (portfolio publisher, mailer).
const (
	EventPaymentApproved = "payment.approved"
	EventPaymentRejected = "payment.rejected"
	EventPaymentRefunded = "payment.refunded"
)

// OutboxEvent is written in the same transaction as the change it describes.
type OutboxEvent struct {
	ID        uuid.UUID
	EventType string
	Key       string
	Payload   []byte
	Status    OutboxStatus
	Attempts  int
	NextRunAt time.Time
	CreatedAt time.Time
}
