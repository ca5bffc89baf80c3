// Package filter screens request text against the operator's banned words.
package filter

import "strings"

// ShouldReject reports whether text contains any of the banned words,
// ignoring case. Blank entries never match.
func ShouldReject(text string, banned []string) bool {
	if len(banned) == 0 {
		return false
	}

	lowered := strings.ToLower(text)

	for _, word := range banned {
		if strings.TrimSpace(word) == "" {
			continue
		}

		if strings.Contains(lowered, strings.ToLower(word)) {
			return true
		}
	}

	return false
}
