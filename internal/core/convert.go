package core

// convert.go turns raw cell text into typed values.
//
// Accounting exports are messy: currency symbols and thousands separators in
// amounts, parenthesised negatives, a dozen date layouts, and spreadsheet
// formula wrappers around identifiers. These helpers accept all of that and
// report failure instead of guessing.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates a number after currency cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot: two-digit years landing more than this many years in
// the future are moved to the previous century.
var TwoDigitYearPivot = 20

var (
	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006/01/02", "2006.01.02",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "02-Jan-2006",
		"20060102",
	}
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
)

// DateLayout is the canonical form date-transformed values are stored in.
const DateLayout = "2006-01-02"

// ParseNumber parses an amount, accepting $, €, £, thousands separators,
// inner whitespace and accounting negatives such as "(1,234.50)".
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "", "\t", "").Replace(s)
	if negative {
		s = "-" + s
	}
	if !numericRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDate parses ISO dates first, then the M/D/YYYY family and other
// common layouts, then two-digit years with the pivot applied.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseBool accepts true/false, t/f, yes/no, y/n and 1/0.
func ParseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// stripFormula removes the ="..." wrapper spreadsheets put around values
// they should not reformat, e.g. ="00123".
func stripFormula(s string) string {
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		return s[2 : len(s)-1]
	}
	return s
}

// ApplyTransform converts a raw value. Number and date transforms that fail
// leave the trimmed text in place so validation can report it.
func ApplyTransform(raw string, t Transform) any {
	switch t {
	case TransformLowercase:
		return strings.ToLower(raw)
	case TransformUppercase:
		return strings.ToUpper(raw)
	case TransformTrim:
		return strings.TrimSpace(raw)
	case TransformNumber:
		if f, ok := ParseNumber(raw); ok {
			return f
		}
		return strings.TrimSpace(raw)
	case TransformDate:
		if d, ok := ParseDate(raw); ok {
			return d.Format(DateLayout)
		}
		return strings.TrimSpace(raw)
	default:
		return raw
	}
}
