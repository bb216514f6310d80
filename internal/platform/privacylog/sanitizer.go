// Package privacylog keeps banking identifiers and key material out of log
// output. Customer-scoped identifiers are replaced by a per-boot fingerprint
// so lines from one run still correlate; secrets are dropped outright.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomNonce()

	// Identifiers that must never appear in plain text but are useful to
	// correlate, so they are fingerprinted instead of dropped.
	fingerprintedIDs = map[string]struct{}{
		"customer_id":       {},
		"credential_id":     {},
		"alert_id":          {},
		"terminal_id":       {},
		"recipient_account": {},
		"source_account":    {},
		"seed_user_id":      {},
	}

	// Substrings marking values that are secrets, not identifiers.
	secretKeyParts = []string{
		"token", "secret", "password", "mnemonic", "seed_phrase",
		"private_key", "symmetric_key", "authorization", "challenge",
	}
)

type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		sanitized = append(sanitized, SanitizeAttr(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(sanitized)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lower := strings.ToLower(key)
	if isSecretKey(lower) {
		return slog.String(key, redactedValue)
	}
	if _, ok := fingerprintedIDs[lower]; ok {
		return slog.String(key+"_fp", FingerprintID(attrValueString(attr.Value)))
	}
	return attr
}

// FingerprintID hashes an identifier with the per-boot nonce. Stable within a
// process lifetime, useless for cross-boot correlation.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isSecretKey(key string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func attrValueString(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	return fmt.Sprint(v.Any())
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
