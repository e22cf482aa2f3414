package parse

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// zipMagic prefixes every xlsx workbook.
var zipMagic = []byte("PK\x03\x04")

// IsSpreadsheet reports whether content looks like an xlsx workbook.
func IsSpreadsheet(content []byte) bool {
	return bytes.HasPrefix(content, zipMagic)
}

// ParseSpreadsheet reads the first worksheet of an xlsx workbook, using its
// first non-empty row as the header.
func ParseSpreadsheet(content []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, formatErr("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, formatErr("workbook has no sheets")
	}
	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, formatErr("read sheet %q: %v", sheets[0], err)
	}

	var headers []string
	var rows []record.Row
	for _, cells := range all {
		if isBlank(cells) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(cells))
			for i, c := range cells {
				headers[i] = cleanHeader(c)
			}
			continue
		}
		rows = append(rows, record.NewRow(headers, cells))
	}

	if headers == nil {
		return nil, formatErr("missing header row")
	}
	if len(rows) == 0 {
		return nil, formatErr("no data rows")
	}
	return &Result{Headers: headers, Rows: rows}, nil
}

// SpreadsheetHeaders returns the first non-empty row of the first sheet.
func SpreadsheetHeaders(content []byte) ([]string, error) {
	res, err := ParseSpreadsheet(content)
	if err != nil {
		return nil, err
	}
	return res.Headers, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
