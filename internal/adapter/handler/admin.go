package handler

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/adapter/middleware"
	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/payment"
)

// AdminHandler lets operators review manual payments.
type AdminHandler struct {
	Service PaymentService
	Log     *zap.Logger
}

type DecisionRequest struct {
	Notes string `json:"notes"`
}

func (h *AdminHandler) List(c *fiber.Ctx) error {
	status := domain.PaymentStatus(c.Query("status"))
	switch status {
	case "", domain.PaymentPending, domain.PaymentApproved, domain.PaymentRejected:
	default:
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status filter"})
	}

	payments, err := h.Service.List(c.UserContext(), status, c.QueryInt("limit", 50))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]PaymentResponse, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentResponse(&payments[i]))
	}
	return c.JSON(fiber.Map{"payments": out})
}

func (h *AdminHandler) Approve(c *fiber.Ctx) error {
	return h.decide(c, h.Service.Approve)
}

func (h *AdminHandler) Reject(c *fiber.Ctx) error {
	return h.decide(c, h.Service.Reject)
}

func (h *AdminHandler) decide(c *fiber.Ctx, apply func(context.Context, string, string, *string) (*payment.Outcome, error)) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthenticated"})
	}

	var req DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}
	var notes *string
	if req.Notes != "" {
		notes = &req.Notes
	}

	out, err := apply(c.UserContext(), c.Params("ref"), "admin:"+adminID.String(), notes)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{
		"payment":           toPaymentResponse(out.Payment),
		"applied":           out.Applied,
		"account_activated": out.Activated,
	})
}

// Refund asks the gateway to refund an approved payment. The response is 202:
// the payment is only marked refunded once the refund IPN confirms it.
func (h *AdminHandler) Refund(c *fiber.Ctx) error {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthenticated"})
	}

	p, err := h.Service.Refund(c.UserContext(), c.Params("ref"), "admin:"+adminID.String())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"payment": toPaymentResponse(p),
		"refund":  "requested",
	})
}
