package judge

import (
	"fmt"
	"strings"
)

// extractJSONArray pulls the first JSON array out of a model reply that
// may be wrapped in triple backticks or prose. It scans from the first
// '[' to its matching ']', respecting strings and escapes.
func extractJSONArray(text string) (string, error) {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return "", fmt.Errorf("no JSON array in reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON array in reply")
}
