package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

type rule struct {
	name        string
	pattern     *regexp.Regexp
	replacement string
}

// Redactor masks credentials before log lines reach their writer
type Redactor struct {
	rules []rule
}

// NewRedactor creates a new redactor with default rules
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			{name: "anthropic_key", pattern: regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{16,}`), replacement: redacted},
			{name: "openai_key", pattern: regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), replacement: redacted},
			{name: "bearer", pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`), replacement: "Bearer " + redacted},
			{name: "jwt", pattern: regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), replacement: redacted},
			{name: "slack_token", pattern: regexp.MustCompile(`xox[abpors]-[A-Za-z0-9-]{10,}`), replacement: redacted},
			{name: "aws_key", pattern: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), replacement: redacted},
			// key=value and "key":"value" pairs keep the key and any quotes
			{
				name:        "secret_field",
				pattern:     regexp.MustCompile(`(?i)("?(?:password|passwd|secret|api_key|jwt_secret|bot_token)"?\s*[:=]\s*)("?)([^\s",}]+)("?)`),
				replacement: "${1}${2}" + redacted + "${4}",
			},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: "custom", pattern: re, replacement: redacted})
	return nil
}

// Redact masks sensitive values in s
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllString(s, rl.replacement)
	}
	return s
}

// Wrap wraps an io.Writer so every write is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not treat a shorter redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
