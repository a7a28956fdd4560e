package banned

import (
	"regexp"
	"strings"
)

// DefaultPatterns is the built-in list of destructive command fragments.
var DefaultPatterns = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"format c:",
	"del /f /s /q",
	"rmdir /s /q",
	":(){:|:&};:",
	"dd if=",
	"mkfs.",
	"> /dev/sda",
	"chmod -R 777 /",
}

// Pattern is one compiled banned-command pattern.
type Pattern struct {
	Raw   string
	re    *regexp.Regexp
	lower string
}

// Compile parses raw patterns. Empty entries are dropped.
//
// A pattern written as /body/flags is a regular expression. Flags i, m and s
// map to RE2 inline flags; g, u and y are accepted and ignored. Without flags
// the expression is case-insensitive. Any other pattern, or a regular
// expression that does not compile, matches as a case-insensitive substring.
func Compile(raw []string) []Pattern {
	compiled := make([]Pattern, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		compiled = append(compiled, Pattern{
			Raw:   entry,
			re:    compileRegex(entry),
			lower: strings.ToLower(entry),
		})
	}
	return compiled
}

// Matches reports whether text matches the pattern.
func (p Pattern) Matches(text string) bool {
	if text == "" || p.Raw == "" {
		return false
	}
	if p.re != nil {
		return p.re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), p.lower)
}

// IsRegex reports whether the pattern compiled as a regular expression.
func (p Pattern) IsRegex() bool {
	return p.re != nil
}

// IsBanned reports whether text matches any of the raw patterns.
func IsBanned(text string, patterns []string) bool {
	_, ok := Match(text, patterns)
	return ok
}

// Match returns the first raw pattern matching text.
func Match(text string, patterns []string) (string, bool) {
	return MatchCompiled(text, Compile(patterns))
}

// MatchCompiled is Match over patterns compiled once by the caller.
func MatchCompiled(text string, patterns []Pattern) (string, bool) {
	if text == "" || len(patterns) == 0 {
		return "", false
	}
	for _, pattern := range patterns {
		if pattern.Matches(text) {
			return pattern.Raw, true
		}
	}
	return "", false
}

func compileRegex(entry string) *regexp.Regexp {
	if !strings.HasPrefix(entry, "/") {
		return nil
	}
	end := strings.LastIndex(entry, "/")
	if end <= 0 {
		return nil
	}
	body := entry[1:end]
	if body == "" {
		return nil
	}
	flags, ok := inlineFlags(entry[end+1:])
	if !ok {
		return nil
	}
	re, err := regexp.Compile(flags + body)
	if err != nil {
		return nil
	}
	return re
}

func inlineFlags(raw string) (string, bool) {
	if raw == "" {
		return "(?i)", true
	}
	var kept strings.Builder
	for _, flag := range raw {
		switch flag {
		case 'i', 'm', 's':
			if !strings.ContainsRune(kept.String(), flag) {
				kept.WriteRune(flag)
			}
		case 'g', 'u', 'y':
		default:
			return "", false
		}
	}
	if kept.Len() == 0 {
		return "", true
	}
	return "(?" + kept.String() + ")", true
}
