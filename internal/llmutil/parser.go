// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrEmptyResponse is returned when the model produced no content.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrNotObject is returned by ParseJSONObject for anything but a single object.
	ErrNotObject = errors.New("model response is not a single JSON object")
)

// fenceRegex extracts the body of a markdown code block, whatever its
// language tag. \x60 is a backtick.
var fenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON strips markdown fences and surrounding chatter from a model
// response, returning the text that should hold the JSON document.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.HasPrefix(response, "```") {
		if m := fenceRegex.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		return response
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// Conversational text: take the span from the first opener to its
	// matching closer kind.
	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return response
	}
	closer := "}"
	if response[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(response, closer)
	if end <= start {
		return response
	}
	return response[start : end+1]
}

// ParseJSONResponse parses a model response into T, tolerating markdown
// fences and leading or trailing prose.
func ParseJSONResponse[T any](response string) (*T, error) {
	if strings.TrimSpace(response) == "" {
		return nil, ErrEmptyResponse
	}
	doc := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(doc, 500))
	}
	return &result, nil
}

// ParseJSONObject is ParseJSONResponse restricted to a single JSON object.
// Arrays, scalars and trailing documents are rejected with ErrNotObject.
func ParseJSONObject[T any](response string) (*T, error) {
	if strings.TrimSpace(response) == "" {
		return nil, ErrEmptyResponse
	}
	doc := ExtractJSON(response)
	if !strings.HasPrefix(doc, "{") {
		return nil, fmt.Errorf("%w: got %s", ErrNotObject, truncateString(doc, 80))
	}

	end := objectEnd(doc)
	if end == -1 {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: unterminated object. Extracted JSON (truncated): %s", truncateString(doc, 500))
	}
	if rest := strings.TrimSpace(doc[end:]); rest != "" {
		return nil, fmt.Errorf("%w: trailing content %s", ErrNotObject, truncateString(rest, 80))
	}
	raw := []byte(doc[:end])

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(doc, 500))
	}
	return &result, nil
}

// objectEnd returns the offset just past the object that opens doc, or -1.
// Braces inside string literals are ignored.
func objectEnd(doc string) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Byte truncation; good enough for error messages.
	return s[:maxLen] + "..."
}
