// Package parse turns raw source content into header-keyed rows.
//
// Every parser takes the whole payload in memory, skips blank lines, and
// requires a header plus at least one data row. Malformed content fails with
// an error wrapping ErrFormat.
package parse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// ErrFormat marks content that cannot be parsed in the declared format.
var ErrFormat = errors.New("format error")

// Result is the output of every parser.
type Result struct {
	Headers []string
	Rows    []record.Row
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Clean strips a leading UTF-8 byte order mark and replaces invalid UTF-8
// sequences with U+FFFD. Spreadsheet exports from Windows tools commonly
// carry both.
func Clean(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.WriteRune(r)
		}
		data = data[size:]
	}
	return buf.Bytes()
}

// nonBlankLines splits text on \n (tolerating \r\n) and drops blank lines.
func nonBlankLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSuffix(l, "\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// FirstLine returns the first non-blank line of content.
func FirstLine(content []byte) string {
	for _, l := range strings.Split(string(content), "\n") {
		l = strings.TrimSuffix(l, "\r")
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

func cleanHeader(h string) string {
	return strings.TrimSpace(h)
}
