package output

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

func renderTable(v view) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if v.title != "" {
		t.SetTitle(v.title)
	}

	t.AppendHeader(toRow(v.header))
	for _, r := range v.rows {
		t.AppendRow(toRow(r))
	}
	if v.footer != "" && len(v.header) > 0 {
		footer := make(table.Row, len(v.header))
		footer[len(footer)-1] = v.footer
		t.AppendFooter(footer)
	}
	return t.Render()
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}
