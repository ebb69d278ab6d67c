package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// IsTerminal reports whether no further decision can be applied.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentApproved || s == PaymentRejected
}

type PaymentMethod string

const (
	MethodManual  PaymentMethod = "manual"
	MethodPayTech PaymentMethod = "paytech"
)

// Valid reports whether the method is one checkout accepts.
func (m PaymentMethod) Valid() bool {
	return m == MethodManual || m == MethodPayTech
}

// TypeSubscription is the only payment type this service issues.
const TypeSubscription = "subscription"

// Payment is one attempt to pay for portfolio activation.
type Payment struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	RefCommand string
	Token      *string
	Amount     Money
	Status     PaymentStatus
	Method     PaymentMethod
	Type       string
	AdminNotes *string
	VerifiedBy *string
	VerifiedAt *time.Time
	RefundedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsPending reports whether the payment is still awaiting a decision.
func (p *Payment) IsPending() bool { return p.Status == PaymentPending }

// IsApproved reports whether the payment has been approved.
func (p *Payment) IsApproved() bool { return p.Status == PaymentApproved }

// Transition is a decided state change, ready to be applied atomically by a store.
type Transition struct {
	RefCommand      string
	From            PaymentStatus
	To              PaymentStatus
	Actor           string
	Notes           *string
	At              time.Time
	ActivateAccount bool
	Event           *OutboxEvent
}
