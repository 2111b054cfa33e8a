package llm

import (
	"errors"
	"strings"
)

// ExtractJSONObject locates the first balanced JSON object in a model
// reply, tolerating Markdown code fences and prose around it.
func ExtractJSONObject(s string) (string, error) {
	return extractBalanced(StripCodeFences(s), '{', '}')
}

// ExtractJSONArray locates the first balanced JSON array in a model reply.
func ExtractJSONArray(s string) (string, error) {
	return extractBalanced(StripCodeFences(s), '[', ']')
}

// StripCodeFences removes a surrounding ```...``` block (with optional
// language tag) if present.
func StripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop the language tag line ("json", "JSON", ...).
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		firstLine := strings.TrimSpace(trimmed[:i])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}[]") {
			trimmed = trimmed[i+1:]
		}
	}
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.TrimSpace(trimmed)
}

// extractBalanced scans for the first balanced open..close region outside
// of string literals.
func extractBalanced(s string, open, close byte) (string, error) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", errors.New("no JSON payload found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON payload in response")
}
