package schema

import (
	"strings"
	"unicode"
)

// Normalize lowercases a header or field name and reduces it to
// space-separated words. camelCase boundaries, whitespace, underscores,
// hyphens and other punctuation all become single spaces, so
// "invoiceNumber", "Invoice_Number" and "invoice - number" agree.
func Normalize(s string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(s))
	space := false
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			space = b.Len() > 0
			continue
		}
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			space = b.Len() > 0
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Compact is Normalize without the spaces. It is the form used for
// dictionary lookups and signature containment.
func Compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Words splits a normalized name into its words.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}
