package handler

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/adapter/middleware"
	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

// PaymentHandler serves the authenticated owner endpoints.
type PaymentHandler struct {
	Service PaymentService
	Log     *zap.Logger
}

type CheckoutRequest struct {
	Method string `json:"method"`
}

type CheckoutResponse struct {
	Payment     PaymentResponse `json:"payment"`
	RedirectURL string          `json:"redirect_url,omitempty"`
}

func (h *PaymentHandler) Checkout(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthenticated"})
	}

	// 1. Parse JSON
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Method == "" {
		req.Method = string(domain.MethodPayTech)
	}

	// 2. Open the payment
	res, err := h.Service.Checkout(c.UserContext(), userID, domain.PaymentMethod(req.Method))
	if err != nil {
		return respondError(c, h.Log, err)
	}

	return c.Status(http.StatusCreated).JSON(CheckoutResponse{
		Payment:     toPaymentResponse(res.Payment),
		RedirectURL: res.RedirectURL,
	})
}

// Get returns a payment to its owner or an admin. Other callers get 404 so
// references cannot be probed.
func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	p, err := h.owned(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(toPaymentResponse(p))
}

// Sync polls the gateway for the payment and applies the result.
func (h *PaymentHandler) Sync(c *fiber.Ctx) error {
	p, err := h.owned(c)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out, err := h.Service.Sync(c.UserContext(), p.RefCommand)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{
		"payment": toPaymentResponse(out.Payment),
		"applied": out.Applied,
	})
}

func (h *PaymentHandler) owned(c *fiber.Ctx) (*domain.Payment, error) {
	p, err := h.Service.Get(c.UserContext(), c.Params("ref"))
	if err != nil {
		return nil, err
	}
	userID, _ := middleware.UserID(c)
	if p.UserID != userID && !middleware.IsAdmin(c) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, nil
}

// AccountStatus handles GET /v1/account/status.
func (h *PaymentHandler) AccountStatus(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthenticated"})
	}
	sum, err := h.Service.AccountStatus(c.UserContext(), userID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{
		"user_id":              sum.User.ID,
		"status":               sum.User.Status,
		"has_approved_payment": sum.HasApprovedPayment,
	})
}
