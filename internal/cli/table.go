package cli

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const tablePadding = 2

// table is a left-aligned text table. Cells may carry ANSI styling; widths
// are measured on the visible text.
type table struct {
	headers []string
	rows    [][]string
	// maxWidth caps a column; longer cells are cut with an ellipsis.
	maxWidth map[int]int
}

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	return (&table{headers: headers, rows: rows}).write(out)
}

func (t *table) columns() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

func (t *table) cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	value := row[idx]
	if limit, ok := t.maxWidth[idx]; ok && limit > 0 && visibleWidth(value) > limit {
		value = runewidth.Truncate(stripANSI(value), limit, "…")
	}
	return value
}

func (t *table) write(out io.Writer) error {
	cols := t.columns()
	if cols == 0 {
		return nil
	}
	widths := make([]int, cols)
	measure := func(row []string) {
		for idx := 0; idx < cols; idx++ {
			if w := visibleWidth(t.cell(row, idx)); w > widths[idx] {
				widths[idx] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	w := bufio.NewWriter(out)
	writeRow := func(row []string) {
		var line strings.Builder
		for idx := 0; idx < cols; idx++ {
			value := t.cell(row, idx)
			line.WriteString(value)
			if idx < cols-1 {
				line.WriteString(strings.Repeat(" ", widths[idx]-visibleWidth(value)+tablePadding))
			}
		}
		// Short trailing cells would otherwise leave padding behind.
		_, _ = w.WriteString(strings.TrimRight(line.String(), " ") + "\n")
	}
	if len(t.headers) > 0 {
		writeRow(t.headers)
	}
	for _, row := range t.rows {
		writeRow(row)
	}
	return w.Flush()
}

func visibleWidth(value string) int {
	return runewidth.StringWidth(stripANSI(value))
}

// stripANSI removes CSI escape sequences.
func stripANSI(value string) string {
	if !strings.Contains(value, "\x1b[") {
		return value
	}
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		if value[i] != 0x1b || i+1 >= len(value) || value[i+1] != '[' {
			b.WriteByte(value[i])
			continue
		}
		i += 2
		for i < len(value) && (value[i] < 0x40 || value[i] > 0x7e) {
			i++
		}
	}
	return b.String()
}
