package ingest

import (
	"regexp"
	"strings"
)

var (
	creditCardPattern = regexp.MustCompile(`\b\d{4}-\d{4}-\d{4}-\d{4}\b`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// Scrub redacts PII from text. The second return is false when the
// scrubber vetoes the input entirely.
func Scrub(text string) (string, bool) {
	out := creditCardPattern.ReplaceAllString(text, "[CREDIT_CARD]")
	out = emailPattern.ReplaceAllString(out, "[EMAIL]")
	return strings.TrimSpace(out), true
}
