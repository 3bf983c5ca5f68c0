package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

// clip shortens s to n runes for table cells.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n < 2 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// extraSummary flattens result metadata to "k=v" pairs in key order.
func extraSummary(extra map[string]any) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k == "diagnostics" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := extra[k]
		switch v := value.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, data))
		}
	}
	return strings.Join(parts, " ")
}
