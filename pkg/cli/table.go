package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Table prints column-aligned rows. Cells may carry ANSI colour (Status,
// Red, ...); widths are measured on the visible text so coloured columns
// stay aligned. Headers and a dash divider are written on Flush, and a
// table without rows prints nothing.
type Table struct {
	out     io.Writer
	headers []string
	rows    [][]string
	prefix  string
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to w.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{out: w, headers: headers}
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row adds a row. Missing trailing cells print empty.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the headers, the divider and every row.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", len(h))
	}
	lines := append([][]string{t.headers, dividers}, t.rows...)

	var widths []int
	for _, cells := range lines {
		for i, c := range cells {
			if i == len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], VisibleWidth(c))
		}
	}

	for _, cells := range lines {
		var b strings.Builder
		b.WriteString(t.prefix)
		for i, c := range cells {
			b.WriteString(c)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-VisibleWidth(c)+2))
			}
		}
		fmt.Fprintln(t.out, b.String())
	}
	t.rows = nil
}

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// VisibleWidth is the number of runes s shows on a terminal, ignoring ANSI
// colour sequences.
func VisibleWidth(s string) int {
	return utf8.RuneCountInString(ansiRE.ReplaceAllString(s, ""))
}
