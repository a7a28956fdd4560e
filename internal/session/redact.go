package session

import "regexp"

var redactions = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{re: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`), replacement: "[REDACTED_KEY]"},
	{re: regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)\S+`), replacement: "${1}[REDACTED_TOKEN]"},
	{re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), replacement: "[REDACTED_EMAIL]"},
}

// Redact replaces API keys, bearer tokens and e-mail addresses with fixed
// placeholders. Nothing else is touched.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.replacement)
	}
	return text
}

// Truncate caps text at maxChars runes, marking the cut with "...".
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "..."
}
