package security

import (
	"errors"

	"github.com/laityfaye/portfolio-pay/internal/core/domain"
)

var ErrMissingCredentials = errors.New("gateway api key and secret are required")

// Credentials is the shared API key/secret pair issued by the gateway.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Strategy is one way of proving a notification came from the gateway.
type Strategy interface {
	Name() string
	// Applicable reports whether the notification carries this strategy's proof.
	Applicable(n domain.Notification) bool
	Verify(n domain.Notification, creds Credentials) bool
}

// HmacStrategy checks hmac_compute = hex(HMAC-SHA256(secret, "amount|reference|api_key")).
type HmacStrategy struct{}

func (HmacStrategy) Name() string { return "hmac" }

func (HmacStrategy) Applicable(n domain.Notification) bool {
	return n.HmacCompute != ""
}

func (HmacStrategy) Verify(n domain.Notification, creds Credentials) bool {
	if n.HmacCompute == "" {
		return false
	}
	expected := HMACSHA256Hex([]byte(creds.APISecret), []byte(HmacMessage(n, creds.APIKey)))
	return Equal(expected, n.HmacCompute)
}

// HmacMessage builds the pipe-delimited message the gateway signs. Field order is
// fixed by the gateway: transfers sign id_transfer, payments sign ref_command.
func HmacMessage(n domain.Notification, apiKey string) string {
	return n.SignedAmount() + "|" + n.Reference() + "|" + apiKey
}

// Sha256Strategy checks plain SHA-256 hashes of the API key and secret.
type Sha256Strategy struct{}

func (Sha256Strategy) Name() string { return "sha256" }

func (Sha256Strategy) Applicable(n domain.Notification) bool {
	return n.APIKeySHA256 != "" && n.APISecretSHA256 != ""
}

func (Sha256Strategy) Verify(n domain.Notification, creds Credentials) bool {
	if n.APIKeySHA256 == "" || n.APISecretSHA256 == "" {
		return false
	}
	keyOK := Equal(SHA256Hex(creds.APIKey), n.APIKeySHA256)
	secretOK := Equal(SHA256Hex(creds.APISecret), n.APISecretSHA256)
	return keyOK && secretOK
}

// Verifier authenticates inbound notifications against a priority list of strategies.
type Verifier struct {
	creds      Credentials
	strategies []Strategy
}

type VerifierOption func(*Verifier)

// WithStrategies replaces the default priority list.
func WithStrategies(strategies ...Strategy) VerifierOption {
	return func(v *Verifier) {
		v.strategies = strategies
	}
}

// NewVerifier fails when the credentials are incomplete; secrets are never defaulted.
func NewVerifier(creds Credentials, opts ...VerifierOption) (*Verifier, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	v := &Verifier{
		creds:      creds,
		strategies: []Strategy{HmacStrategy{}, Sha256Strategy{}},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify returns true when the first applicable strategy accepts the notification.
// A notification with no applicable proof is rejected.
func (v *Verifier) Verify(n domain.Notification) bool {
	ok, _ := v.VerifyWith(n)
	return ok
}

// VerifyWith is Verify that also reports which strategy decided ("" when none applied).
func (v *Verifier) VerifyWith(n domain.Notification) (bool, string) {
	for _, s := range v.strategies {
		if s.Applicable(n) {
			return s.Verify(n, v.creds), s.Name()
		}
	}
	return false, ""
}

// VerifyHmac runs only the HMAC method.
func (v *Verifier) VerifyHmac(n domain.Notification) bool {
	return HmacStrategy{}.Verify(n, v.creds)
}

// VerifySha256 runs only the SHA-256 credential-hash method.
func (v *Verifier) VerifySha256(n domain.Notification) bool {
	return Sha256Strategy{}.Verify(n, v.creds)
}
