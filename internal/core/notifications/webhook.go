package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/security"
)

const SignatureHeader = "X-Signature"

// WebhookPublisher POSTs the event payload to a subscriber URL. The body is signed
// with hex HMAC-SHA256 under the shared secret so receivers can authenticate it.
type WebhookPublisher struct {
	rc     *resty.Client
	url    string
	secret []byte
}

func NewWebhookPublisher(url, secret string) (*WebhookPublisher, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	rc := resty.New().
		SetTimeout(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "PortfolioPay-Webhook/1.0")
	return &WebhookPublisher{rc: rc, url: url, secret: []byte(secret)}, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, event domain.OutboxEvent) error {
	resp, err := p.rc.R().
		SetContext(ctx).
		SetHeader(SignatureHeader, security.HMACSHA256Hex(p.secret, event.Payload)).
		SetHeader("X-Event-Type", event.EventType).
		SetHeader("X-Event-ID", event.ID.String()).
		SetBody(event.Payload).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode())
	}
	return nil
}
