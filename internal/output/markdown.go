package output

import (
	"strings"
)

func renderMarkdown(v view) string {
	var sb strings.Builder
	if v.title != "" {
		sb.WriteString("## " + v.title + "\n\n")
	}

	sb.WriteString("|")
	for _, h := range v.header {
		sb.WriteString(" " + escapeMarkdownCell(h) + " |")
	}
	sb.WriteString("\n|")
	for range v.header {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")

	for _, row := range v.rows {
		sb.WriteString("|")
		for _, cell := range row {
			sb.WriteString(" " + escapeMarkdownCell(cell) + " |")
		}
		sb.WriteString("\n")
	}

	if v.footer != "" {
		sb.WriteString("\n**" + v.footer + "**\n")
	}
	return sb.String()
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	return strings.ReplaceAll(value, "\n", " ")
}
