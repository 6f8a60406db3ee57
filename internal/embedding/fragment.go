package embedding

import (
	"regexp"
	"strings"
)

var bodySplitRe = regexp.MustCompile(`[.,;:!?]+`)

// Fragments splits a post into the ordered fragment list that gets
// encoded: title, summary, then body chunks split on sentence
// punctuation. Empty pieces are dropped. The order is stable across
// reloads because it is derived purely from the text.
func Fragments(title, summary, body string) []string {
	parts := make([]string, 0, 8)
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if s := strings.TrimSpace(summary); s != "" {
		parts = append(parts, s)
	}
	for _, chunk := range bodySplitRe.Split(body, -1) {
		if c := strings.TrimSpace(chunk); c != "" {
			parts = append(parts, c)
		}
	}
	return parts
}
