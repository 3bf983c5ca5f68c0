package agent

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const truncationMarker = "\n...[truncated]"

// successContent renders a tool result for the outbound log.
func successContent(result map[string]any) string {
	if result == nil {
		return "{}"
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

func failureContent(message string) string {
	return "ERROR: " + message
}

// truncate caps s at limit runes. A limit below one disables truncation.
func truncate(s string, limit int) (string, bool) {
	if limit < 1 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:limit]) + truncationMarker, true
}
