package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        string
	DatabaseURL string
	Env         string

	// Gateway (PayTech-compatible hosted checkout)
	GatewayBaseURL   string
	GatewayAPIKey    string
	GatewayAPISecret string
	GatewayEnv       string
	GatewayTimeout   time.Duration
	IPNURL           string
	SuccessURL       string
	CancelURL        string

	// Pricing
	PortfolioPrice decimal.Decimal
	Currency       string
	ItemName       string

	// Auth
	JWTSecret string

	// Event delivery
	KafkaBrokers       []string
	KafkaTopic         string
	WebhookURL         string
	WebhookSecret      string
	OutboxPollInterval time.Duration

	// Redis delivery guard (optional)
	RedisAddr     string
	RedisPassword string
	IPNGuardTTL   time.Duration
}

// LoadConfig reads the .env file and the environment. Malformed durations and
// prices are errors, not defaults: a typo in PORTFOLIO_PRICE would otherwise
// charge every checkout the fallback amount.
func LoadConfig() (*Config, error) {
	// .env is optional, production sets real env vars
	_ = godotenv.Load()

	var l loader
	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Env:         getEnv("ENV", "development"),

		GatewayBaseURL:   getEnv("PAYTECH_BASE_URL", "https://paytech.sn/api"),
		GatewayAPIKey:    getEnv("PAYTECH_API_KEY", ""),
		GatewayAPISecret: getEnv("PAYTECH_API_SECRET", ""),
		GatewayEnv:       getEnv("PAYTECH_ENV", "test"),
		GatewayTimeout:   l.duration("PAYTECH_TIMEOUT", 15*time.Second),
		IPNURL:           getEnv("PAYTECH_IPN_URL", ""),
		SuccessURL:       getEnv("PAYTECH_SUCCESS_URL", ""),
		CancelURL:        getEnv("PAYTECH_CANCEL_URL", ""),

		PortfolioPrice: l.amount("PORTFOLIO_PRICE", decimal.NewFromInt(5000)),
		Currency:       strings.ToUpper(getEnv("PORTFOLIO_CURRENCY", "XOF")),
		ItemName:       getEnv("PORTFOLIO_ITEM_NAME", "Portfolio activation"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "payment_events"),
		WebhookURL:         getEnv("WEBHOOK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
		OutboxPollInterval: l.duration("OUTBOX_POLL_INTERVAL", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		IPNGuardTTL:   l.duration("IPN_GUARD_TTL", 30*time.Second),
	}
	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs against the live gateway.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

// loader collects every malformed value so one run reports them all.
type loader struct {
	errs []error
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a positive duration", key, raw))
		return fallback
	}
	return d
}

func (l *loader) amount(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a positive amount", key, raw))
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEnvInt is used by the CLI for optional numeric flags defaults.
func GetEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
