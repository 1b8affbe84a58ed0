package engine

import (
	"encoding/json"
	"strings"

	"github.com/hyperagent/hyperagent/schema"
)

// parseReply parses an agent's raw reply against its role's validator.
//
// The raw text is tried as JSON first; on failure a single extraction pass
// strips markdown fences and surrounding prose before the first '{' (or
// '[') and after the last '}' (']'). If no JSON can be recovered and the
// parser is unknown, the raw string itself is the parsed value; otherwise
// parsing fails.
func parseReply(validator *schema.Validator, raw string) (any, error) {
	var candidate any
	if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
		extracted := extractJSON(raw)
		if extracted == "" || json.Unmarshal([]byte(extracted), &candidate) != nil {
			if validator.Kind() == schema.TypeUnknown {
				return raw, nil
			}
			return nil, err
		}
	}
	return validator.Validate(candidate)
}

// extractJSON recovers a JSON document embedded in prose or markdown
// fences: the text from the first '{' or '[' to the last matching closing
// character. Returns "" when there is no opener or no closer after it;
// bracket balance inside the slice is not checked.
func extractJSON(text string) string {
	text = stripFences(text)

	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')

	start, closing := objStart, byte('}')
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start, closing = arrStart, ']'
	}
	if start < 0 {
		return ""
	}

	end := strings.LastIndexByte(text, closing)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}

// stripFences removes markdown code fences, keeping their content.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for _, line := range splitLines(text) {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// splitLines mirrors strings.Lines: it splits s into newline-terminated
// lines, each including its terminating newline except possibly the last.
func splitLines(s string) []string {
	var lines []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}
