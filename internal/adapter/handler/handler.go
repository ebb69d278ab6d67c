package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/gateway"
	"github.com/laityfaye/portfolio-pay/internal/core/payment"
)

// PaymentService is implemented by *payment.Service.
type PaymentService interface {
	HandleIPN(ctx context.Context, n domain.Notification) (payment.IPNStatus, error)
	HandleRefundIPN(ctx context.Context, n domain.Notification) (payment.IPNStatus, error)
	Checkout(ctx context.Context, userID uuid.UUID, method domain.PaymentMethod) (*payment.CheckoutResult, error)
	Sync(ctx context.Context, ref string) (*payment.Outcome, error)
	Get(ctx context.Context, ref string) (*domain.Payment, error)
	List(ctx context.Context, status domain.PaymentStatus, limit int) ([]domain.Payment, error)
	Approve(ctx context.Context, ref, actor string, notes *string) (*payment.Outcome, error)
	Reject(ctx context.Context, ref, actor string, notes *string) (*payment.Outcome, error)
	Refund(ctx context.Context, ref, actor string) (*domain.Payment, error)
	AccountStatus(ctx context.Context, userID uuid.UUID) (*payment.AccountSummary, error)
}

type PaymentResponse struct {
	ID            uuid.UUID  `json:"id"`
	RefCommand    string     `json:"ref_command"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	Type          string     `json:"type"`
	AdminNotes    *string    `json:"admin_notes,omitempty"`
	VerifiedBy    *string    `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		RefCommand:    p.RefCommand,
		Amount:        p.Amount.String(),
		Currency:      string(p.Amount.Currency),
		Status:        string(p.Status),
		PaymentMethod: string(p.Method),
		Type:          p.Type,
		AdminNotes:    p.AdminNotes,
		VerifiedBy:    p.VerifiedBy,
		VerifiedAt:    p.VerifiedAt,
		RefundedAt:    p.RefundedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// respondError maps service errors to HTTP statuses. Unknown errors are logged
// and hidden from the client.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var upErr *gateway.UpstreamError
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound), errors.Is(err, domain.ErrUserNotFound):
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateReference),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, payment.ErrNotSyncable),
		errors.Is(err, payment.ErrNotRefundable):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, payment.ErrInvalidMethod):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, gateway.ErrInvalidCallbackURL), errors.Is(err, gateway.ErrMissingRedirectURL):
		logger.Error("Gateway callbacks misconfigured", zap.Error(err))
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &upErr):
		logger.Error("Gateway call failed", zap.Error(err))
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{
			"error":           "payment gateway error",
			"upstream_status": upErr.StatusCode,
		})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	logger.Error("Request failed", zap.Error(err))
	return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
