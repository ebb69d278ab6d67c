package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/adapter/cache"
	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/metrics"
	"github.com/laityfaye/portfolio-pay/internal/core/payment"
)

// IPNVerifier is implemented by *security.Verifier.
type IPNVerifier interface {
	VerifyWith(n domain.Notification) (bool, string)
}

// DeliveryGuard is implemented by *cache.DeliveryGuard.
type DeliveryGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// IPNHandler receives gateway notifications. Guard is optional.
type IPNHandler struct {
	Verifier IPNVerifier
	Service  PaymentService
	Guard    DeliveryGuard
	Log      *zap.Logger
}

// Notify handles POST /payments/ipn.
func (h *IPNHandler) Notify(c *fiber.Ctx) error {
	return h.process(c, h.Service.HandleIPN)
}

// NotifyRefund handles POST /payments/refund-ipn.
func (h *IPNHandler) NotifyRefund(c *fiber.Ctx) error {
	return h.process(c, h.Service.HandleRefundIPN)
}

func (h *IPNHandler) process(c *fiber.Ctx, apply func(context.Context, domain.Notification) (payment.IPNStatus, error)) error {
	ctx := c.UserContext()

	// 1. Parse body, keeping every value as the exact text received
	n, err := parseNotification(c)
	if err != nil {
		h.Log.Warn("Invalid IPN body", zap.Error(err))
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid notification body"})
	}

	// 2. Authenticate
	ok, strategy := h.Verifier.VerifyWith(n)
	metrics.RecordIPN(strategy, ok)
	if !ok {
		h.Log.Warn("IPN verification failed",
			zap.String("type_event", n.TypeEvent),
			zap.String("ref", n.Reference()),
			zap.String("strategy", strategy),
		)
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid notification signature"})
	}

	// 3. Drop deliveries already in flight
	key := cache.IPNKey(n.TypeEvent, n.Reference())
	if h.Guard != nil {
		claimed, err := h.Guard.Claim(ctx, key)
		if err != nil {
			h.Log.Warn("Delivery guard unavailable", zap.Error(err))
		}
		if !claimed {
			h.Log.Info("Duplicate IPN delivery in flight", zap.String("key", key))
			return c.JSON(fiber.Map{"status": "duplicate"})
		}
	}

	// 4. Apply
	status, err := apply(ctx, n)
	if err != nil {
		if h.Guard != nil {
			if relErr := h.Guard.Release(ctx, key); relErr != nil {
				h.Log.Warn("Failed to release delivery guard", zap.Error(relErr))
			}
		}
		h.Log.Error("IPN processing failed", zap.String("type_event", n.TypeEvent), zap.String("ref", n.Reference()), zap.Error(err))
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Notification could not be processed"})
	}

	h.Log.Info("IPN processed",
		zap.String("type_event", n.TypeEvent),
		zap.String("ref", n.Reference()),
		zap.String("strategy", strategy),
		zap.String("status", string(status)),
	)
	return c.JSON(fiber.Map{"status": status})
}

// parseNotification accepts JSON or form bodies. JSON numbers are kept as their
// literal text since the signature covers the raw amount.
func parseNotification(c *fiber.Ctx) (domain.Notification, error) {
	var get func(string) string

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEApplicationJSON) {
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return domain.Notification{}, fmt.Errorf("malformed json: %w", err)
		}
		get = func(key string) string {
			switch v := fields[key].(type) {
			case nil:
				return ""
			case string:
				return v
			case json.Number:
				return v.String()
			default:
				return fmt.Sprint(v)
			}
		}
	} else {
		get = func(key string) string { return c.FormValue(key) }
	}

	n := domain.NotificationFromValues(get)
	if n.TypeEvent == "" {
		return domain.Notification{}, fmt.Errorf("type_event is required")
	}
	return n, nil
}
