package rules

import "strings"

const maxSummary = 64

// snippet flattens content to one line and truncates it for listings.
func snippet(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) <= maxSummary {
		return value
	}
	return value[:maxSummary-3] + "..."
}
