package ai

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencePattern    = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

var errNoJSON = errors.New("no valid JSON found in response")

// ExtractJSON pulls the first JSON document out of a model answer that may
// carry <think> blocks, markdown fences or chatter around it.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	if m := fencePattern.FindStringSubmatch(cleaned); len(m) == 2 {
		if fenced := strings.TrimSpace(m[1]); json.Valid([]byte(fenced)) {
			return fenced, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')
	order := []byte{'{', '['}
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		order = []byte{'[', '{'}
	}
	for _, open := range order {
		if candidate, ok := balancedJSON(cleaned, open); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	return "", errNoJSON
}

// balancedJSON returns the first bracket-balanced span starting at open,
// ignoring brackets inside string literals.
func balancedJSON(s string, open byte) (string, bool) {
	closeChar := byte('}')
	if open == '[' {
		closeChar = ']'
	}
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closeChar:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
