package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder for sensitive fields.
// Card tokens, payout destinations and webhook secrets must never land
// in logs verbatim.
const RedactedValue = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"card_token":          {},
	"pan":                 {},
	"cvv":                 {},
	"account_number":      {},
	"payout_destination":  {},
	"webhook_secret":      {},
	"api_key":             {},
	"bearer_token":        {},
	"device_fingerprint":  {},
	"ip":                  {},
	"verification_answer": {},
}

// IsSensitive reports whether a log key must be masked before emission.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns the redaction placeholder for non-empty values.
// Empty values pass through so absent fields stay visibly absent.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog.Attr, redacting the value when the key is
// sensitive. Last-four style display values should be precomputed by
// the caller; this helper never truncates.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
