package surface

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxTabLineLength  = 100
	tabNameFallbackAt = 50
)

var relativeTimeSuffix = regexp.MustCompile(`\s*\d+[smh]$`)

// TabName derives a display name from a tab's text content.
func TabName(text string) string {
	text = strings.TrimSpace(text)
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) > 0 {
		if last := lines[len(lines)-1]; len(last) < maxTabLineLength {
			return stripTimeSuffix(last)
		}
		for i := len(lines) - 1; i >= 0; i-- {
			if line := lines[i]; len(line) < maxTabLineLength && !codeLike(line) {
				return stripTimeSuffix(line)
			}
		}
	}

	runes := []rune(text)
	if len(runes) > tabNameFallbackAt {
		runes = runes[:tabNameFallbackAt]
	}
	return stripTimeSuffix(string(runes))
}

// DedupeNames suffixes repeated names with " (n)" so every entry is unique.
func DedupeNames(names []string) []string {
	counts := make(map[string]int, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		counts[name]++
		if counts[name] == 1 {
			out = append(out, name)
			continue
		}
		out = append(out, fmt.Sprintf("%s (%d)", name, counts[name]))
	}
	return out
}

func stripTimeSuffix(text string) string {
	return strings.TrimSpace(relativeTimeSuffix.ReplaceAllString(strings.TrimSpace(text), ""))
}

func codeLike(line string) bool {
	return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") || strings.Contains(line, "{")
}
