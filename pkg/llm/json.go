package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	reasoningPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fencePattern     = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// errNoJSON is wrapped into a response error by the providers.
var errNoJSON = errors.New("no valid JSON found in model response")

// ExtractJSON pulls the first JSON object or array out of a model answer that
// may be wrapped in prose, markdown fences or reasoning tags.
func ExtractJSON(response string) (string, error) {
	cleaned := reasoningPattern.ReplaceAllString(response, "")

	if m := fencePattern.FindStringSubmatch(cleaned); m != nil {
		if candidate := strings.TrimSpace(m[1]); json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' && cleaned[i] != '[' {
			continue
		}
		if candidate, ok := balancedFrom(cleaned, i); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	return "", errNoJSON
}

// balancedFrom returns the bracketed value opening at s[start], skipping
// brackets that appear inside string literals.
func balancedFrom(s string, start int) (string, bool) {
	var stack []byte
	inString, escaped := false, false

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
