package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// SHA256Hex returns the lowercase hex SHA-256 of s.
func SHA256Hex(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of message keyed with secret.
func HMACSHA256Hex(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares two strings in constant time (for equal lengths).
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateReference creates an unguessable ref_command such as "PF-3f9a0c17d2b84e61".
func GenerateReference(prefix string) (string, error) {
	// 8 random bytes -> 16 hex chars, plenty for a per-user checkout reference
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%s-%s", strings.ToUpper(prefix), hex.EncodeToString(bytes)), nil
}
