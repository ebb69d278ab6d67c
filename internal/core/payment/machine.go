package payment

import (
	"fmt"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

// Event is a decision requested for a payment.
type Event string

const (
	EventApprove Event = "approve"
	EventReject  Event = "reject"
)

func (e Event) target() (domain.PaymentStatus, bool) {
	switch e {
	case EventApprove:
		return domain.PaymentApproved, true
	case EventReject:
		return domain.PaymentRejected, true
	}
	return "", false
}

// Effect is a side effect that must be applied together with a state change.
type Effect string

const (
	EffectActivateAccount Effect = "activate_account"
	EffectPublishEvent    Effect = "publish_event"
)

// Decision is the result of applying an event to the current status.
// Changed=false means the event was already applied: nothing to write, no effects.
type Decision struct {
	From    domain.PaymentStatus
	To      domain.PaymentStatus
	Changed bool
	Effects []Effect
}

// Has reports whether the decision carries the effect.
func (d Decision) Has(effect Effect) bool {
	for _, e := range d.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// Decide is the payment state machine:
//
//	pending  --approve--> approved  (activate account, publish)
//	pending  --reject-->  rejected  (publish)
//	approved --approve--> no-op     rejected --reject--> no-op
//	approved --reject-->  ErrInvalidTransition (and vice versa)
func Decide(current domain.PaymentStatus, ev Event) (Decision, error) {
	target, ok := ev.target()
	if !ok {
		return Decision{}, fmt.Errorf("unknown payment event %q", ev)
	}

	switch {
	case current == domain.PaymentPending:
		d := Decision{From: current, To: target, Changed: true, Effects: []Effect{EffectPublishEvent}}
		if target == domain.PaymentApproved {
			d.Effects = append([]Effect{EffectActivateAccount}, d.Effects...)
		}
		return d, nil
	case current == target:
		return Decision{From: current, To: current}, nil
	case current.IsTerminal():
		return Decision{}, fmt.Errorf("%w: %s payment cannot be %s", domain.ErrInvalidTransition, current, target)
	}
	return Decision{}, fmt.Errorf("unknown payment status %q", current)
}
