package dispatch

import (
	"fmt"
	"strings"
)

const defaultOKFalseMessage = "tool returned ok=false"

// NormalizeToolError folds the shapes a tool uses to report failure into one
// signal. Checked in order: a top-level non-empty "error" string, a
// top-level "ok": false, then the same two checks on a nested "result"
// object. The nested object is only consulted when the top level carries
// neither, so the top level always wins.
func NormalizeToolError(result map[string]any) (isError bool, message string) {
	if result == nil {
		return false, ""
	}
	if msg, ok := checkLevel(result); ok {
		return true, msg
	}
	if inner, ok := result["result"].(map[string]any); ok {
		if msg, ok := checkLevel(inner); ok {
			return true, msg
		}
	}
	return false, ""
}

func checkLevel(level map[string]any) (string, bool) {
	if s, ok := level["error"].(string); ok {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return trimmed, true
		}
	}
	if ok, isBool := level["ok"].(bool); isBool && !ok {
		switch v := level["error"].(type) {
		case nil:
			return defaultOKFalseMessage, true
		case string:
			if strings.TrimSpace(v) == "" {
				return defaultOKFalseMessage, true
			}
			return v, true
		default:
			return fmt.Sprint(v), true
		}
	}
	return "", false
}
