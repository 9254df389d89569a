package cli

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Table renders tabular data using go-pretty. Created via Output.Table().
type Table struct {
	out        *Output
	meta       Meta
	headers    []string
	rows       [][]string
	rightAlign []int
}

// AddRow adds a row of values. Should match header count.
func (t *Table) AddRow(values ...string) *Table {
	t.rows = append(t.rows, values)
	return t
}

// AlignRight right-aligns the given zero-based columns in text output.
func (t *Table) AlignRight(columns ...int) *Table {
	t.rightAlign = append(t.rightAlign, columns...)
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render outputs the table in the configured format.
func (t *Table) Render() error {
	return t.out.Render(t)
}

// Meta returns the table metadata.
func (t *Table) Meta() Meta {
	return t.meta
}

// RenderText writes a table using go-pretty.
func (t *Table) RenderText(w io.Writer) error {
	tw := t.newTableWriter()
	tw.SetStyle(table.StyleLight)

	configs := make([]table.ColumnConfig, 0, len(t.rightAlign))
	for _, col := range t.rightAlign {
		configs = append(configs, table.ColumnConfig{Number: col + 1, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(configs)

	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// RenderJSON returns the data as an array of objects.
func (t *Table) RenderJSON() any {
	result := make([]map[string]string, 0, len(t.rows))
	for _, row := range t.rows {
		obj := make(map[string]string, len(t.headers))
		for i, h := range t.headers {
			if i < len(row) {
				obj[toJSONKey(h)] = row[i]
			}
		}
		result = append(result, obj)
	}
	return result
}

// RenderMarkdown writes a markdown table using go-pretty.
func (t *Table) RenderMarkdown(w io.Writer) error {
	tw := t.newTableWriter()
	_, err := io.WriteString(w, tw.RenderMarkdown()+"\n")
	return err
}

func (t *Table) newTableWriter() table.Writer {
	tw := table.NewWriter()

	header := make(table.Row, len(t.headers))
	for i, h := range t.headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range t.rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		tw.AppendRow(r)
	}
	return tw
}

