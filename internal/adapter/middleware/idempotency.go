package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// IdempotencyStore keeps the first response sent for a key. Claim must be atomic:
// of two concurrent claims for one key, only one succeeds. Lookup reports status
// 0 while the claiming request is still running.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Lookup(ctx context.Context, key string) (status int, body []byte, found bool, err error)
	Save(ctx context.Context, key string, status int, body []byte) error
	Release(ctx context.Context, key string) error
}

// Idempotency replays the stored response when a request repeats its
// Idempotency-Key, and answers 409 while the first request is still running.
// Keys are scoped to the authenticated caller. Server errors are not stored so
// the client can retry them.
func Idempotency(store IdempotencyStore, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Get Key from Header
		key := c.Get("Idempotency-Key")
		if key == "" {
			return c.Next()
		}
		if userID, ok := UserID(c); ok {
			key = userID.String() + ":" + key
		}
		ctx := c.UserContext()

		// 2. Claim the key before running anything
		claimed, err := store.Claim(ctx, key)
		if err != nil {
			logger.Error("Failed to claim Idempotency Key, serving without it", zap.Error(err))
			return c.Next()
		}
		if !claimed {
			return replay(c, store, logger, key)
		}

		// 3. Run the Handler
		if err := c.Next(); err != nil {
			release(ctx, store, logger, key)
			return err
		}

		// 4. Save the Result
		resStatus := c.Response().StatusCode()
		if resStatus >= fiber.StatusInternalServerError {
			release(ctx, store, logger, key)
			return nil
		}
		resBody := append([]byte(nil), c.Response().Body()...)
		if err := store.Save(ctx, key, resStatus, resBody); err != nil {
			logger.Error("Failed to save Idempotency Key", zap.Error(err), zap.String("key", key))
		}
		return nil
	}
}

func replay(c *fiber.Ctx, store IdempotencyStore, logger *zap.Logger, key string) error {
	status, body, found, err := store.Lookup(c.UserContext(), key)
	switch {
	case err != nil:
		logger.Error("Failed to read Idempotency Key", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	case !found || status == 0:
		// Still running, or released between the claim and this read
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "A request with this Idempotency-Key is in progress"})
	}
	logger.Info("Idempotency hit, returning cached response", zap.String("key", key))
	c.Set("X-Idempotency-Hit", "true")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(body)
}

func release(ctx context.Context, store IdempotencyStore, logger *zap.Logger, key string) {
	if err := store.Release(ctx, key); err != nil {
		logger.Error("Failed to release Idempotency Key", zap.Error(err), zap.String("key", key))
	}
}
