package core

import "strings"

const RedactedValue = "[REDACTED]"

// Login with Amazon access and refresh tokens carry these prefixes, so they
// are masked even under keys that look harmless.
var lwaTokenPrefixes = []string{"Atza|", "Atzr|", "Atc|"}

var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"credential",
	"grant_code",
	"refresh",
}

// keys that match a sensitive part but only ever hold identifiers
var identifierKeys = map[string]struct{}{
	"endpoint_id":       {},
	"user_id":           {},
	"event_id":          {},
	"message_id":        {},
	"correlation_token": {},
	"idempotency_key":   {},
	"token_type":        {},
	"refreshed":         {},
	"request_id":        {},
}

// RedactSensitiveMap returns a copy of metadata with secrets masked. Nested
// maps and slices are walked. AcceptGrant payloads keep their shape but lose
// the grant and grantee codes.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactMap(metadata, "")
}

func redactMap(source map[string]any, parent string) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if isSensitiveKey(key, parent) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactValue(value, strings.ToLower(key))
	}
	return target
}

func redactValue(value any, parent string) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactMap(typed, parent)
	case map[string]string:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = item
		}
		return redactMap(out, parent)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactValue(typed[i], parent)
		}
		return out
	case string:
		if looksLikeLWAToken(typed) {
			return RedactedValue
		}
		return typed
	default:
		return value
	}
}

func isSensitiveKey(key, parent string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	if _, ok := identifierKeys[key]; ok {
		return false
	}
	// payload.grant.code and payload.grantee.token
	if key == "code" && (parent == "grant" || parent == "grantee") {
		return true
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func looksLikeLWAToken(value string) bool {
	for _, prefix := range lwaTokenPrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
