package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of any attribute whose key looks like a
// credential.
const RedactedValue = "[REDACTED]"

// sensitiveFragments are matched against lower-cased attribute keys.
var sensitiveFragments = []string{"secret", "token", "password", "authorization", "dsn", "api_key"}

// IsSensitive reports whether values logged under key must be masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// redact masks sensitive string attributes. Groups are walked so nested
// credentials are caught as well.
func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		out := make([]any, 0, len(members))
		for _, member := range members {
			out = append(out, redact(member))
		}
		return slog.Group(attr.Key, out...)
	}
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
