package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/laityfaye/portfolio-pay/internal/core/security"
)

var (
	ErrInvalidCallbackURL = errors.New("callback url must be an absolute https url")
	ErrMissingRedirectURL = errors.New("callback url is not configured")
)

const (
	requestPaymentPath = "/payment/request-payment"
	getStatusPath      = "/payment/get-status"
	refundPaymentPath  = "/payment/refund-payment"
)

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Env        string // "test" or "prod"
	IPNURL     string
	SuccessURL string
	CancelURL  string
	Timeout    time.Duration
}

// Client talks to the hosted-checkout gateway. Calls are bounded by Config.Timeout
// and never retried here; the caller owns retry policy.
type Client struct {
	cfg Config
	rc  *resty.Client
}

// New fails fast on missing credentials.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, security.ErrMissingCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Env == "" {
		cfg.Env = "test"
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "PortfolioPay/1.0").
		SetHeader("API_KEY", cfg.APIKey).
		SetHeader("API_SECRET", cfg.APISecret)

	return &Client{cfg: cfg, rc: rc}, nil
}

// ValidateCallbacks checks the IPN, success and cancel URLs without any network I/O.
func (c *Client) ValidateCallbacks() error {
	for _, cb := range []struct{ name, raw string }{
		{"ipn_url", c.cfg.IPNURL},
		{"success_url", c.cfg.SuccessURL},
		{"cancel_url", c.cfg.CancelURL},
	} {
		if err := validateCallbackURL(cb.raw); err != nil {
			return fmt.Errorf("%s: %w", cb.name, err)
		}
	}
	return nil
}

func validateCallbackURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrMissingRedirectURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ErrInvalidCallbackURL
	}
	return nil
}

// Order is what the caller wants to charge for.
type Order struct {
	ItemName    string
	ItemPrice   string
	Currency    string
	RefCommand  string
	CommandName string
	CustomField string
}

type paymentRequestBody struct {
	ItemName    string `json:"item_name"`
	ItemPrice   string `json:"item_price"`
	Currency    string `json:"currency"`
	RefCommand  string `json:"ref_command"`
	CommandName string `json:"command_name"`
	Env         string `json:"env"`
	IPNURL      string `json:"ipn_url"`
	SuccessURL  string `json:"success_url"`
	CancelURL   string `json:"cancel_url"`
	CustomField string `json:"custom_field,omitempty"`
}

type PaymentResponse struct {
	Token       string
	RedirectURL string
}

// RequestPayment opens a hosted checkout session and returns its token.
func (c *Client) RequestPayment(ctx context.Context, order Order) (*PaymentResponse, error) {
	// Preconditions first: nothing leaves the process with a bad callback
	if err := c.ValidateCallbacks(); err != nil {
		return nil, err
	}

	body := paymentRequestBody{
		ItemName:    order.ItemName,
		ItemPrice:   order.ItemPrice,
		Currency:    order.Currency,
		RefCommand:  order.RefCommand,
		CommandName: order.CommandName,
		Env:         c.cfg.Env,
		IPNURL:      c.cfg.IPNURL,
		SuccessURL:  c.cfg.SuccessURL,
		CancelURL:   c.cfg.CancelURL,
		CustomField: order.CustomField,
	}

	resp, err := c.rc.R().SetContext(ctx).SetBody(body).Post(requestPaymentPath)
	if err != nil {
		return nil, &UpstreamError{Op: "request-payment", Err: err}
	}

	var out struct {
		Success     flexInt `json:"success"`
		Token       string  `json:"token"`
		RedirectURL string  `json:"redirect_url"`
		RedirectAlt string  `json:"redirectUrl"`
		Message     string  `json:"message"`
	}
	if err := decode(resp, "request-payment", &out); err != nil {
		return nil, err
	}
	if out.Success != 1 || out.Token == "" {
		return nil, upstream(resp, "request-payment", fmt.Errorf("gateway refused payment request: %s", out.Message))
	}

	redirect := out.RedirectURL
	if redirect == "" {
		redirect = out.RedirectAlt
	}
	return &PaymentResponse{Token: out.Token, RedirectURL: redirect}, nil
}

// StatusResponse carries the gateway-defined status fields. Only State feeds
// the state machine; Raw is kept for diagnostics.
type StatusResponse struct {
	State      string
	RefCommand string
	Raw        map[string]any
}

// Normalised gateway states.
const (
	StateCompleted = "completed"
	StateCanceled  = "canceled"
	StatePending   = "pending"
)

// Outcome maps the gateway state to completed/canceled/pending.
func (s *StatusResponse) Outcome() string {
	switch strings.ToLower(strings.TrimSpace(s.State)) {
	case "completed", "complete", "success", "sale_complete":
		return StateCompleted
	case "canceled", "cancelled", "failed", "sale_canceled":
		return StateCanceled
	}
	return StatePending
}

// CheckStatus polls the gateway for a payment token.
func (c *Client) CheckStatus(ctx context.Context, token string) (*StatusResponse, error) {
	if token == "" {
		return nil, errors.New("token is required")
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("token_payment", token).
		Get(getStatusPath)
	if err != nil {
		return nil, &UpstreamError{Op: "get-status", Err: err}
	}

	var out struct {
		Success flexInt        `json:"success"`
		Message string         `json:"message"`
		Payment map[string]any `json:"payment"`
	}
	if err := decode(resp, "get-status", &out); err != nil {
		return nil, err
	}
	if out.Success != 1 {
		return nil, upstream(resp, "get-status", fmt.Errorf("gateway status lookup failed: %s", out.Message))
	}

	status := &StatusResponse{Raw: out.Payment}
	if v, ok := out.Payment["state"].(string); ok {
		status.State = v
	}
	if v, ok := out.Payment["ref_command"].(string); ok {
		status.RefCommand = v
	}
	return status, nil
}

// RefundPayment asks the gateway to refund a completed payment. The refund is
// confirmed later through the refund IPN.
func (c *Client) RefundPayment(ctx context.Context, refCommand string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]string{"ref_command": refCommand}).
		Post(refundPaymentPath)
	if err != nil {
		return &UpstreamError{Op: "refund-payment", Err: err}
	}

	var out struct {
		Success flexInt `json:"success"`
		Message string  `json:"message"`
	}
	if err := decode(resp, "refund-payment", &out); err != nil {
		return err
	}
	if out.Success != 1 {
		return upstream(resp, "refund-payment", fmt.Errorf("gateway refused refund: %s", out.Message))
	}
	return nil
}

func decode(resp *resty.Response, op string, v any) error {
	if !resp.IsSuccess() {
		return upstream(resp, op, nil)
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return upstream(resp, op, fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// flexInt accepts 1, "1" and 1.0 as the same value; the gateway is not consistent.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(bytes.Trim(b, `"`)), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}
