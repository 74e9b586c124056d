package reconcile

import (
	"regexp"
	"strings"
)

// Pre-compiled patterns for locating structured blocks in model output.
var (
	// fencedBlockPattern matches a JSON object inside a markdown code fence.
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*?\\})\\s*```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// maxLooseCandidates bounds how many balanced-brace spans the loose parse
// will attempt to decode before giving up.
const maxLooseCandidates = 8

// extractFenced returns the first fenced JSON object in s, cleaned of
// common model artifacts, or "" if none is present.
func extractFenced(s string) string {
	m := fencedBlockPattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return cleanStructured(m[1])
}

// balancedObject returns the first balanced {...} span starting at or
// after pos, plus the position from which to resume scanning for the
// next candidate. An empty span with resume < 0 means no opening brace
// remains.
func balancedObject(s string, pos int) (span string, resume int) {
	off := strings.IndexByte(s[pos:], '{')
	if off < 0 {
		return "", -1
	}
	start := pos + off

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inStr && c == '\\':
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
			// Braces inside string values do not count.
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], start + 1
			}
		}
	}

	// Unbalanced from this start; let the caller resume past it.
	return "", start + 1
}

// cleanStructured removes JavaScript-style line comments and trailing
// commas, both of which models commonly emit inside otherwise valid JSON.
func cleanStructured(raw string) string {
	if strings.Contains(raw, "//") {
		lines := strings.Split(raw, "\n")
		for i, line := range lines {
			lines[i] = stripLineComment(line)
		}
		raw = strings.Join(lines, "\n")
	}
	return trailingCommaPattern.ReplaceAllString(raw, "$1")
}

// stripLineComment removes a // comment from a line, respecting string
// values so URLs like "https://example.com" survive intact.
func stripLineComment(line string) string {
	inStr := false
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case inStr && c == '\\':
			escaped = true
		case c == '"':
			inStr = !inStr
		case !inStr && c == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}
