package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenerateCallbackToken derives the bearer token a terminal container uses to
// authenticate its callbacks. It binds the token to exactly one terminal id.
func GenerateCallbackToken(secret, terminalID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("callback:" + terminalID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackToken compares token against the expected value in constant
// time.
func VerifyCallbackToken(secret, terminalID, token string) bool {
	if terminalID == "" || token == "" {
		return false
	}
	expected := GenerateCallbackToken(secret, terminalID)
	return hmac.Equal([]byte(token), []byte(expected))
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>"
// header value, or "" if the header is missing or malformed.
func ExtractBearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
