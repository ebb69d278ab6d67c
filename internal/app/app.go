// Package app wires configuration into the services shared by the API server
// and the operator CLI.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/laityfaye/portfolio-pay/internal/adapter/storage"
	"github.com/laityfaye/portfolio-pay/internal/core/config"
	"github.com/laityfaye/portfolio-pay/internal/core/domain"
	"github.com/laityfaye/portfolio-pay/internal/core/gateway"
	"github.com/laityfaye/portfolio-pay/internal/core/notifications"
	"github.com/laityfaye/portfolio-pay/internal/core/payment"
	"github.com/laityfaye/portfolio-pay/internal/core/security"
)

// NewLogger returns a JSON logger in production and a console one elsewhere, and
// installs it as the global logger.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func Credentials(cfg *config.Config) security.Credentials {
	return security.Credentials{APIKey: cfg.GatewayAPIKey, APISecret: cfg.GatewayAPISecret}
}

func NewGateway(cfg *config.Config) (*gateway.Client, error) {
	return gateway.New(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIKey:     cfg.GatewayAPIKey,
		APISecret:  cfg.GatewayAPISecret,
		Env:        cfg.GatewayEnv,
		IPNURL:     cfg.IPNURL,
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		Timeout:    cfg.GatewayTimeout,
	})
}

// NewPaymentService builds the service over Postgres repositories. Without any
// gateway credentials the service only takes manual payments; a half-configured
// gateway is an error.
func NewPaymentService(cfg *config.Config, db storage.DB, logger *zap.Logger) (*payment.Service, error) {
	price, err := domain.NewMoney(cfg.PortfolioPrice, cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("invalid portfolio price: %w", err)
	}

	var gw payment.Gateway
	if cfg.GatewayAPIKey == "" && cfg.GatewayAPISecret == "" {
		logger.Warn("PAYTECH_API_KEY and PAYTECH_API_SECRET not set, only manual payments are available")
	} else {
		client, err := NewGateway(cfg)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
		gw = client
	}

	return payment.NewService(
		storage.NewPaymentRepository(db),
		storage.NewUserRepository(db),
		gw,
		payment.Pricing{Amount: price, ItemName: cfg.ItemName},
		logger,
	), nil
}

// NewPublisher picks Kafka, then a signed webhook, then plain logging. The
// returned close func releases the producer.
func NewPublisher(cfg *config.Config, logger *zap.Logger) (notifications.Publisher, func() error, error) {
	noop := func() error { return nil }

	switch {
	case len(cfg.KafkaBrokers) > 0:
		producer, err := notifications.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		pub := notifications.NewKafkaPublisher(producer, cfg.KafkaTopic, logger)
		return pub, pub.Close, nil
	case cfg.WebhookURL != "":
		pub, err := notifications.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("Webhook publisher initialized")
		return pub, noop, nil
	}
	logger.Warn("No KAFKA_BROKERS or WEBHOOK_URL set, payment events are only logged")
	return notifications.NewLogPublisher(logger), noop, nil
}
