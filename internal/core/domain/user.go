package domain

import (
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountPending   AccountStatus = "pending"
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// User is the payment-relevant projection of a portfolio owner.
type User struct {
	ID        uuid.UUID
	Email     string
	Status    AccountStatus
	CreatedAt time.Time
}
