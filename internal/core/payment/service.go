package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/gateway"
	"github.com/laityfaye/portfolio-pay/internal/core/metrics"
	"github.com/laityfaye/portfolio-pay/internal/core/security"
)

var (
	ErrInvalidMethod      = errors.New("unsupported payment method")
	ErrGatewayUnavailable = errors.New("payment gateway is not configured")
	ErrNotSyncable        = errors.New("payment has no gateway token to sync")
	ErrNotRefundable      = errors.New("payment cannot be refunded")
)

// GatewayActor is recorded in verified_by for decisions taken from gateway data.
const GatewayActor = "gateway:paytech"

// applying a transition can lose a race at most once: the winner leaves the payment terminal
const maxApplyAttempts = 3

// Store persists payments. ApplyTransition must update the payment only while it is
// still pending, and apply the account activation and outbox insert in the same
// transaction. applied=false means another writer got there first.
type Store interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByRef(ctx context.Context, ref string) (*domain.Payment, error)
	ListByStatus(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error)
	SetToken(ctx context.Context, ref, token string) error
	ApplyTransition(ctx context.Context, t domain.Transition) (applied, activated bool, err error)
	MarkRefunded(ctx context.Context, ref string, at time.Time, event *domain.OutboxEvent) (bool, error)
}

type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	HasApprovedPayment(ctx context.Context, id uuid.UUID) (bool, error)
}

// Gateway is the subset of the gateway client the service drives.
type Gateway interface {
	ValidateCallbacks() error
	RequestPayment(ctx context.Context, order gateway.Order) (*gateway.PaymentResponse, error)
	CheckStatus(ctx context.Context, token string) (*gateway.StatusResponse, error)
	RefundPayment(ctx context.Context, refCommand string) error
}

// Pricing is what a portfolio activation costs.
type Pricing struct {
	Amount   domain.Money
	ItemName string
}

// Outcome is the result of an approve or reject request.
type Outcome struct {
	Payment   *domain.Payment
	Applied   bool
	Activated bool
}

type CheckoutResult struct {
	Payment     *domain.Payment
	RedirectURL string
}

type AccountSummary struct {
	User               *domain.User
	HasApprovedPayment bool
}

// IPNStatus is what the IPN endpoint acknowledges back to the gateway.
type IPNStatus string

const (
	IPNProcessed IPNStatus = "ok"
	IPNIgnored   IPNStatus = "ignored"
)

type Service struct {
	store   Store
	users   Users
	gw      Gateway
	pricing Pricing
	log     *zap.Logger
	tracer  trace.Tracer

	now    func() time.Time
	newRef func() (string, error)
}

// NewService wires the service. gw may be nil when only manual payments are offered.
func NewService(store Store, users Users, gw Gateway, pricing Pricing, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		users:   users,
		gw:      gw,
		pricing: pricing,
		log:     logger,
		tracer:  otel.Tracer("portfolio-pay/payment"),
		now:     func() time.Time { return time.Now().UTC() },
		newRef:  func() (string, error) { return security.GenerateReference("PF") },
	}
}

func (s *Service) Approve(ctx context.Context, ref, actor string, notes *string) (*Outcome, error) {
	return s.apply(ctx, ref, EventApprove, actor, notes)
}

func (s *Service) Reject(ctx context.Context, ref, actor string, notes *string) (*Outcome, error) {
	return s.apply(ctx, ref, EventReject, actor, notes)
}

// apply loads the payment, decides, and writes the decision with a conditional
// update. When the write loses a race the payment is reloaded and decided again,
// so the loser observes the terminal state and takes the no-op or error path.
func (s *Service) apply(ctx context.Context, ref string, ev Event, actor string, notes *string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "payment."+string(ev))
	defer span.End()
	span.SetAttributes(attribute.String("payment.ref", ref), attribute.String("payment.actor", actor))

	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		p, err := s.store.GetByRef(ctx, ref)
		if err != nil {
			s.fail(span, string(ev), err)
			return nil, err
		}

		d, err := Decide(p.Status, ev)
		if err != nil {
			s.fail(span, string(ev), err)
			return nil, err
		}
		if !d.Changed {
			metrics.RecordTransition(string(ev), "noop")
			s.log.Info("Payment already decided", zap.String("ref_command", ref), zap.String("status", string(p.Status)))
			return &Outcome{Payment: p}, nil
		}

		t, err := s.transition(p, d, actor, notes)
		if err != nil {
			s.fail(span, string(ev), err)
			return nil, err
		}

		applied, activated, err := s.store.ApplyTransition(ctx, t)
		if err != nil {
			s.fail(span, string(ev), err)
			return nil, fmt.Errorf("failed to apply %s: %w", ev, err)
		}
		if !applied {
			s.log.Info("Concurrent decision detected, reloading", zap.String("ref_command", ref), zap.Int("attempt", attempt))
			continue
		}

		p.Status = d.To
		p.VerifiedBy = &t.Actor
		p.VerifiedAt = &t.At
		if notes != nil {
			p.AdminNotes = notes
		}
		p.UpdatedAt = t.At

		metrics.RecordTransition(string(ev), "applied")
		if activated {
			metrics.RecordActivation()
		}
		span.SetAttributes(attribute.String("payment.status", string(p.Status)), attribute.Bool("account.activated", activated))
		s.log.Info("Payment decided",
			zap.String("ref_command", ref),
			zap.String("status", string(p.Status)),
			zap.String("actor", actor),
			zap.Bool("account_activated", activated),
		)
		return &Outcome{Payment: p, Applied: true, Activated: activated}, nil
	}

	err := fmt.Errorf("payment %s kept changing after %d attempts", ref, maxApplyAttempts)
	s.fail(span, string(ev), err)
	return nil, err
}

func (s *Service) transition(p *domain.Payment, d Decision, actor string, notes *string) (domain.Transition, error) {
	at := s.now()
	t := domain.Transition{
		RefCommand:      p.RefCommand,
		From:            d.From,
		To:              d.To,
		Actor:           actor,
		Notes:           notes,
		At:              at,
		ActivateAccount: d.Has(EffectActivateAccount),
	}
	if d.Has(EffectPublishEvent) {
		eventType := domain.EventPaymentApproved
		if d.To == domain.PaymentRejected {
			eventType = domain.EventPaymentRejected
		}
		ev, err := newOutboxEvent(eventType, p, d.To, actor, at)
		if err != nil {
			return domain.Transition{}, err
		}
		t.Event = ev
	}
	return t, nil
}

func (s *Service) fail(span trace.Span, event string, err error) {
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		metrics.RecordTransition(event, "not_found")
	case errors.Is(err, domain.ErrInvalidTransition):
		metrics.RecordTransition(event, "invalid")
	default:
		metrics.RecordTransition(event, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

type eventPayload struct {
	Event      string    `json:"event"`
	PaymentID  string    `json:"payment_id"`
	RefCommand string    `json:"ref_command"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Method     string    `json:"payment_method"`
	Actor      string    `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newOutboxEvent(eventType string, p *domain.Payment, status domain.PaymentStatus, actor string, at time.Time) (*domain.OutboxEvent, error) {
	body, err := json.Marshal(eventPayload{
		Event:      eventType,
		PaymentID:  p.ID.String(),
		RefCommand: p.RefCommand,
		UserID:     p.UserID.String(),
		Status:     string(status),
		Amount:     p.Amount.String(),
		Currency:   string(p.Amount.Currency),
		Method:     string(p.Method),
		Actor:      actor,
		OccurredAt: at,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	return &domain.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Key:       p.RefCommand,
		Payload:   body,
		Status:    domain.OutboxPending,
		NextRunAt: at,
		CreatedAt: at,
	}, nil
}

// HandleIPN applies a verified payment notification. Unknown references and
// decisions that contradict the stored state are acknowledged as ignored so the
// gateway stops retrying; only infrastructure failures are returned.
func (s *Service) HandleIPN(ctx context.Context, n domain.Notification) (IPNStatus, error) {
	var ev Event
	switch {
	case n.TypeEvent == domain.EventSaleComplete:
		ev = EventApprove
	case n.TypeEvent == domain.EventSaleCanceled:
		ev = EventReject
	case n.IsTransfer():
		s.log.Info("Transfer notification acknowledged",
			zap.String("type_event", n.TypeEvent),
			zap.String("id_transfer", n.IDTransfer),
		)
		return IPNProcessed, nil
	default:
		s.log.Info("Unhandled notification type", zap.String("type_event", n.TypeEvent))
		return IPNIgnored, nil
	}

	out, err := s.apply(ctx, n.RefCommand, ev, GatewayActor, nil)
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		s.log.Warn("Notification for unknown payment", zap.String("ref_command", n.RefCommand), zap.String("type_event", n.TypeEvent))
		return IPNIgnored, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		s.log.Warn("Notification contradicts payment state", zap.String("ref_command", n.RefCommand), zap.Error(err))
		return IPNIgnored, nil
	case err != nil:
		return "", err
	}

	if amount := n.SignedAmount(); ev == EventApprove && amount != "0" && !out.Payment.Amount.Matches(amount) {
		s.log.Warn("Notified amount differs from payment amount",
			zap.String("ref_command", n.RefCommand),
			zap.String("notified", amount),
			zap.String("expected", out.Payment.Amount.String()),
		)
	}
	return IPNProcessed, nil
}

// Refund asks the gateway to refund an approved gateway payment. Nothing is
// written here: the payment is marked refunded when the refund IPN arrives.
func (s *Service) Refund(ctx context.Context, ref, actor string) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.refund_request")
	defer span.End()
	span.SetAttributes(attribute.String("payment.ref", ref), attribute.String("payment.actor", actor))

	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch {
	case !p.IsApproved():
		return nil, fmt.Errorf("%w: %s payment", ErrNotRefundable, p.Status)
	case p.RefundedAt != nil:
		return nil, fmt.Errorf("%w: already refunded", ErrNotRefundable)
	case p.Method != domain.MethodPayTech:
		return nil, fmt.Errorf("%w: %s payments are refunded outside the gateway", ErrNotRefundable, p.Method)
	case s.gw == nil:
		return nil, ErrGatewayUnavailable
	}

	if err := s.gw.RefundPayment(ctx, ref); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("Gateway refund request failed", zap.String("ref_command", ref), zap.Error(err))
		return nil, err
	}
	s.log.Info("Refund requested", zap.String("ref_command", ref), zap.String("actor", actor))
	return p, nil
}

// HandleRefundIPN records a confirmed refund on an approved payment. The account
// stays active.
func (s *Service) HandleRefundIPN(ctx context.Context, n domain.Notification) (IPNStatus, error) {
	ctx, span := s.tracer.Start(ctx, "payment.refund")
	defer span.End()

	if n.TypeEvent != domain.EventRefundComplete {
		s.log.Info("Unhandled refund notification type", zap.String("type_event", n.TypeEvent))
		return IPNIgnored, nil
	}

	p, err := s.store.GetByRef(ctx, n.RefCommand)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		s.log.Warn("Refund for unknown payment", zap.String("ref_command", n.RefCommand))
		return IPNIgnored, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if !p.IsApproved() {
		s.log.Warn("Refund for a payment that is not approved", zap.String("ref_command", p.RefCommand), zap.String("status", string(p.Status)))
		return IPNIgnored, nil
	}
	if p.RefundedAt != nil {
		return IPNProcessed, nil
	}

	at := s.now()
	event, err := newOutboxEvent(domain.EventPaymentRefunded, p, p.Status, GatewayActor, at)
	if err != nil {
		return "", err
	}
	marked, err := s.store.MarkRefunded(ctx, p.RefCommand, at, event)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to record refund: %w", err)
	}
	if marked {
		s.log.Info("Payment refunded", zap.String("ref_command", p.RefCommand))
	}
	return IPNProcessed, nil
}

// Checkout opens a new payment for the user. The pending payment is persisted
// before the gateway is called, so a gateway failure leaves a pending payment
// that can be retried or synced.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, method domain.PaymentMethod) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.checkout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.String()), attribute.String("payment.method", string(method)))

	// 1. Validate request
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if method == domain.MethodPayTech {
		if s.gw == nil {
			return nil, ErrGatewayUnavailable
		}
		if err := s.gw.ValidateCallbacks(); err != nil {
			return nil, err
		}
	}

	// 2. One approved payment per account
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	paid, err := s.users.HasApprovedPayment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, domain.ErrAlreadyPaid
	}

	// 3. Persist the pending payment
	ref, err := s.newRef()
	if err != nil {
		return nil, err
	}
	now := s.now()
	p := &domain.Payment{
		ID:         uuid.New(),
		UserID:     userID,
		RefCommand: ref,
		Amount:     s.pricing.Amount,
		Status:     domain.PaymentPending,
		Method:     method,
		Type:       domain.TypeSubscription,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.ref", ref))

	if method == domain.MethodManual {
		s.log.Info("Manual payment opened", zap.String("ref_command", ref), zap.String("user_id", userID.String()))
		return &CheckoutResult{Payment: p}, nil
	}

	// 4. Open the hosted checkout
	resp, err := s.gw.RequestPayment(ctx, gateway.Order{
		ItemName:    s.pricing.ItemName,
		ItemPrice:   s.pricing.Amount.String(),
		Currency:    string(s.pricing.Amount.Currency),
		RefCommand:  ref,
		CommandName: fmt.Sprintf("%s %s", s.pricing.ItemName, ref),
		CustomField: userID.String(),
	})
	if err != nil {
		span.RecordError(err)
		s.log.Error("Gateway payment request failed", zap.String("ref_command", ref), zap.Error(err))
		return nil, err
	}
	if err := s.store.SetToken(ctx, ref, resp.Token); err != nil {
		return nil, err
	}
	p.Token = &resp.Token

	s.log.Info("Gateway checkout opened", zap.String("ref_command", ref), zap.String("user_id", userID.String()))
	return &CheckoutResult{Payment: p, RedirectURL: resp.RedirectURL}, nil
}

// Sync polls the gateway for a pending payment and applies the reported outcome.
func (s *Service) Sync(ctx context.Context, ref string) (*Outcome, error) {
	p, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !p.IsPending() {
		return &Outcome{Payment: p}, nil
	}
	if p.Method != domain.MethodPayTech || p.Token == nil || *p.Token == "" {
		return nil, ErrNotSyncable
	}
	if s.gw == nil {
		return nil, ErrGatewayUnavailable
	}

	status, err := s.gw.CheckStatus(ctx, *p.Token)
	if err != nil {
		return nil, err
	}

	switch status.Outcome() {
	case gateway.StateCompleted:
		return s.Approve(ctx, ref, GatewayActor, nil)
	case gateway.StateCanceled:
		return s.Reject(ctx, ref, GatewayActor, nil)
	}
	return &Outcome{Payment: p}, nil
}

func (s *Service) Get(ctx context.Context, ref string) (*domain.Payment, error) {
	return s.store.GetByRef(ctx, ref)
}

func (s *Service) List(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, status, limit)
}

func (s *Service) AccountStatus(ctx context.Context, userID uuid.UUID) (*AccountSummary, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	paid, err := s.users.HasApprovedPayment(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AccountSummary{User: u, HasApprovedPayment: paid}, nil
}
