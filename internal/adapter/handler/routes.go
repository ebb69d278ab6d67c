package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/laityfaye/portfolio-pay/internal/adapter/middleware"
)

// Router mounts every payment route on an app.
type Router struct {
	IPN         *IPNHandler
	Payments    *PaymentHandler
	Admin       *AdminHandler
	JWTSecret   string
	Idempotency fiber.Handler
	DB          Pinger
}

func (r Router) Register(app *fiber.App) {
	app.Get("/health", Health(r.DB))

	// Gateway callbacks: authenticated by the body proof, not by a token
	app.Post("/payments/ipn", r.IPN.Notify)
	app.Post("/payments/refund-ipn", r.IPN.NotifyRefund)

	idem := r.Idempotency
	if idem == nil {
		idem = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/v1", middleware.Protected(r.JWTSecret))
	api.Post("/checkout", idem, r.Payments.Checkout)
	api.Get("/payments/:ref", r.Payments.Get)
	api.Post("/payments/:ref/sync", r.Payments.Sync)
	api.Get("/account/status", r.Payments.AccountStatus)

	admin := api.Group("/admin", middleware.AdminOnly())
	admin.Get("/payments", r.Admin.List)
	admin.Post("/payments/:ref/approve", r.Admin.Approve)
	admin.Post("/payments/:ref/reject", r.Admin.Reject)
	admin.Post("/payments/:ref/refund", r.Admin.Refund)
}
