package logger

import (
	"io"
	"regexp"
)

// defaultPatterns covers the credential shapes that can reach log
// lines: raw provider keys, bearer tokens, and key/value-shaped
// fields. API keys and base URLs flow through request logging, so the
// writer scrubs rather than trusting call sites.
var defaultPatterns = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`AIza[a-zA-Z0-9_-]{30,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`(?:api_key|password|secret)["\s:=]+[^\s"]+`,
	`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
}

// Redactor replaces credential-shaped substrings with a placeholder.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the default pattern set.
func NewRedactor() *Redactor {
	r := &Redactor{patterns: make([]*regexp.Regexp, 0, len(defaultPatterns))}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	return r
}

// AddPattern registers an additional redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact scrubs all matches from s.
func (r *Redactor) Redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{next: w, redactor: r}
}

type redactingWriter struct {
	next     io.Writer
	redactor *Redactor
}

// Write reports the input length so zerolog never sees a short write
// when redaction changes the payload size.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.next.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
