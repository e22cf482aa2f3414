package parse

import (
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// HeaderMarker prefixes schema lines in ledger-exchange (IIF) content.
const HeaderMarker = "!"

// ParseLedger parses tab-separated ledger-exchange content. A line starting
// with "!" declares the columns for the record type it names (!TRNS, !SPL,
// !ENDTRNS, ...). Data lines are matched to the schema of their own type,
// falling back to the most recent header. Rows carry their record type;
// types whose schema has no columns (ENDTRNS) emit nothing.
func ParseLedger(content []byte) (*Result, error) {
	lines := nonBlankLines(string(Clean(content)))

	schemas := make(map[string][]string)
	active := ""
	sawHeader := false
	var headers []string
	seen := make(map[string]bool)
	var rows []record.Row

	for _, line := range lines {
		tokens := strings.Split(line, "\t")
		first := strings.TrimSpace(tokens[0])

		if strings.HasPrefix(first, HeaderMarker) {
			recType := strings.TrimPrefix(first, HeaderMarker)
			cols := make([]string, 0, len(tokens)-1)
			for _, t := range tokens[1:] {
				cols = append(cols, cleanHeader(t))
			}
			schemas[recType] = cols
			active = recType
			sawHeader = true
			for _, c := range cols {
				if c != "" && !seen[c] {
					seen[c] = true
					headers = append(headers, c)
				}
			}
			continue
		}

		if !sawHeader {
			return nil, formatErr("ledger data line before any %s header line", HeaderMarker)
		}
		cols, ok := schemas[first]
		if !ok {
			cols = schemas[active]
		}
		if len(cols) == 0 {
			continue
		}

		fields := make([]record.Field, 0, len(cols))
		for i, c := range cols {
			if c == "" {
				continue
			}
			v := ""
			if i+1 < len(tokens) {
				v = strings.TrimSpace(tokens[i+1])
			}
			fields = append(fields, record.Field{Name: c, Value: v})
		}
		rows = append(rows, record.Row{Type: first, Fields: fields})
	}

	if !sawHeader {
		return nil, formatErr("missing %s header line", HeaderMarker)
	}
	if len(rows) == 0 {
		return nil, formatErr("no data rows")
	}
	return &Result{Headers: headers, Rows: rows}, nil
}

// LedgerHeaders returns the column tokens of the first header line, without
// its record-type marker.
func LedgerHeaders(content []byte) []string {
	for _, line := range nonBlankLines(string(Clean(content))) {
		tokens := strings.Split(line, "\t")
		if !strings.HasPrefix(strings.TrimSpace(tokens[0]), HeaderMarker) {
			continue
		}
		out := make([]string, 0, len(tokens)-1)
		for _, t := range tokens[1:] {
			if h := cleanHeader(t); h != "" {
				out = append(out, h)
			}
		}
		return out
	}
	return nil
}
