package parse

import (
	"io"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// Delimiters recognised by detection, in tie-break order.
var Delimiters = []rune{',', '\t', '|', ';'}

// ParseDelimited parses delimiter-separated text with the first record as
// the header. Quoted fields may contain the delimiter, line breaks, and
// doubled quotes.
func ParseDelimited(content []byte, delim rune) (*Result, error) {
	if delim == 0 {
		delim = ','
	}
	if delim == '"' || delim == '\n' || delim == '\r' {
		return nil, formatErr("invalid delimiter %q", delim)
	}

	records := splitRecords(string(Clean(content)), delim)
	if len(records) == 0 {
		return nil, formatErr("missing header line")
	}
	if len(records) < 2 {
		return nil, formatErr("no data rows")
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = cleanHeader(h)
	}

	rows := make([]record.Row, 0, len(records)-1)
	for _, values := range records[1:] {
		rows = append(rows, record.NewRow(headers, values))
	}
	return &Result{Headers: headers, Rows: rows}, nil
}

// SplitLine splits a single line with the same quoting rules as
// ParseDelimited.
func SplitLine(line string, delim rune) []string {
	records := splitRecords(line, delim)
	if len(records) == 0 {
		return nil
	}
	return records[0]
}

// splitRecords tokenises text into records of fields. A quote opens a quoted
// section anywhere in a field; inside it, a doubled quote is a literal quote
// and a single quote closes the section. Records consisting of nothing but
// whitespace are dropped.
func splitRecords(text string, delim rune) [][]string {
	var (
		records  [][]string
		fields   []string
		field    strings.Builder
		inQuotes bool
		quoted   bool
	)

	flushRecord := func() {
		fields = append(fields, field.String())
		field.Reset()
		blank := !quoted && len(fields) == 1 && strings.TrimSpace(fields[0]) == ""
		if !blank {
			records = append(records, fields)
		}
		fields = nil
		quoted = false
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if inQuotes {
			if c == '"' {
				if i+1 < len(runes) && runes[i+1] == '"' {
					field.WriteRune('"')
					i++
					continue
				}
				inQuotes = false
				continue
			}
			field.WriteRune(c)
			continue
		}

		switch c {
		case '"':
			inQuotes = true
			quoted = true
		case delim:
			fields = append(fields, field.String())
			field.Reset()
		case '\r':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			flushRecord()
		case '\n':
			flushRecord()
		default:
			field.WriteRune(c)
		}
	}
	if field.Len() > 0 || len(fields) > 0 || quoted {
		flushRecord()
	}
	return records
}

// EscapeField quotes value when it contains the delimiter, a double quote,
// or a line break, doubling any internal quotes.
func EscapeField(value string, delim rune) string {
	if !strings.ContainsRune(value, delim) && !strings.ContainsAny(value, "\"\r\n") {
		return value
	}
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// JoinFields escapes and joins one record. A record whose only field is
// blank is written as "" so it is not read back as a blank line.
func JoinFields(values []string, delim rune) string {
	if len(values) == 1 && strings.TrimSpace(values[0]) == "" {
		return `"` + values[0] + `"`
	}
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = EscapeField(v, delim)
	}
	return strings.Join(escaped, string(delim))
}

// SerializeDelimited writes headers and rows with the escaping rule used by
// ParseDelimited, one record per line.
func SerializeDelimited(w io.Writer, headers []string, rows [][]string, delim rune) error {
	if delim == 0 {
		delim = ','
	}
	if _, err := io.WriteString(w, JoinFields(headers, delim)+"\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := io.WriteString(w, JoinFields(row, delim)+"\n"); err != nil {
			return err
		}
	}
	return nil
}
