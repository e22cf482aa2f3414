package parse

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// ParseFixedWidth slices each line by cumulative column widths. Text beyond
// the last declared column becomes one extra field, named by the header
// line's remainder or column_<n> when the header has none.
func ParseFixedWidth(content []byte, widths []int) (*Result, error) {
	if len(widths) == 0 {
		return nil, formatErr("fixed-width parsing requires column widths")
	}
	for i, w := range widths {
		if w <= 0 {
			return nil, formatErr("column %d width must be positive, got %d", i+1, w)
		}
	}

	lines := nonBlankLines(string(Clean(content)))
	if len(lines) == 0 {
		return nil, formatErr("missing header line")
	}
	if len(lines) < 2 {
		return nil, formatErr("no data rows")
	}

	cols, rest := sliceWidths(lines[0], widths)
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = cleanHeader(c)
		if headers[i] == "" {
			headers[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	extraName := cleanHeader(rest)
	if extraName != "" {
		headers = append(headers, extraName)
	} else {
		extraName = fmt.Sprintf("column_%d", len(widths)+1)
	}

	rows := make([]record.Row, 0, len(lines)-1)
	for _, line := range lines[1:] {
		values, rest := sliceWidths(line, widths)
		fields := make([]record.Field, 0, len(headers))
		for i := range widths {
			fields = append(fields, record.Field{Name: headers[i], Value: strings.TrimSpace(values[i])})
		}
		if rest != "" {
			fields = append(fields, record.Field{Name: extraName, Value: strings.TrimSpace(rest)})
			if len(headers) == len(widths) {
				headers = append(headers, extraName)
			}
		}
		rows = append(rows, record.Row{Fields: fields})
	}
	return &Result{Headers: headers, Rows: rows}, nil
}

// sliceWidths cuts line into len(widths) runs of runes plus the remainder.
// Short lines yield empty trailing columns.
func sliceWidths(line string, widths []int) ([]string, string) {
	runes := []rune(line)
	out := make([]string, len(widths))
	pos := 0
	for i, w := range widths {
		if pos >= len(runes) {
			break
		}
		end := pos + w
		if end > len(runes) {
			end = len(runes)
		}
		out[i] = string(runes[pos:end])
		pos = end
	}
	if pos >= len(runes) {
		return out, ""
	}
	return out, string(runes[pos:])
}
