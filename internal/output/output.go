// Package output renders CLI views of the queue, the execution ledger and
// the operation table as tables, markdown or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// view is the format-independent shape of every rendering: JSON uses value,
// the text formats use the rows.
type view struct {
	title  string
	header []string
	rows   [][]string
	footer string
	value  any
}

func render(format Format, v view) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v.value, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatMarkdown:
		return renderMarkdown(v), nil
	default:
		return renderTable(v), nil
	}
}
