package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
)

// secretPrefix is how many leading runes of a credential survive in logs.
const secretPrefix = 6

// SetEnabled toggles PII redaction of transcripts.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails and phone numbers when enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out
}

// Secret masks a credential for log output regardless of the PII toggle.
func Secret(in string) string {
	if in == "" {
		return ""
	}
	if utf8.RuneCountInString(in) <= secretPrefix {
		return "***"
	}
	runes := []rune(in)
	return string(runes[:secretPrefix]) + "***"
}
