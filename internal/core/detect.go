package core

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/parse"
	"github.com/JonMunkholm/ledgermigrate/internal/schema"
)

// Detection confidences.
const (
	confidenceSniffed   = 0.95
	confidenceDelimited = 0.8
	confidenceFallback  = 0.5
	confidenceVendorCap = 0.95

	// minVendorOverlap is the number of recognised headers a vendor
	// dictionary needs before a file is attributed to that vendor.
	minVendorOverlap = 3

	// minSignatureHits is the number of signature terms a collection needs
	// to be suggested as the target.
	minSignatureHits = 2

	// minReverseTermLen guards the header-inside-term direction of
	// signature matching against one- and two-letter headers.
	minReverseTermLen = 3
)

// DetectionResult is the outcome of format detection.
type DetectionResult struct {
	Format           SourceFormat `json:"format"`
	Confidence       float64      `json:"confidence"`
	Delimiter        string       `json:"delimiter,omitempty"`
	Headers          []string     `json:"headers"`
	TargetCollection string       `json:"targetCollection,omitempty"`
}

// Detect infers the format of content. filename is an optional hint; only
// its extension is used. The result depends on nothing but the arguments.
func Detect(content []byte, filename string, profiles *schema.Profiles) DetectionResult {
	if profiles == nil {
		profiles = schema.Default()
	}
	ext := strings.ToLower(filepath.Ext(filename))

	// The extension alone is not trusted for workbooks: without the zip
	// signature the content is sniffed like any other text.
	if parse.IsSpreadsheet(content) {
		res := DetectionResult{Format: FormatXLSX, Confidence: confidenceSniffed}
		headers, err := parse.SpreadsheetHeaders(content)
		if err != nil {
			res.Confidence = confidenceFallback
		}
		res.Headers = headers
		res.TargetCollection = guessCollection(headers, profiles)
		return res
	}

	text := parse.Clean(content)
	first := parse.FirstLine(text)

	if ext == ".iif" || strings.HasPrefix(strings.TrimSpace(first), parse.HeaderMarker) {
		headers := parse.LedgerHeaders(text)
		return DetectionResult{
			Format:           FormatIIF,
			Confidence:       confidenceSniffed,
			Delimiter:        "\t",
			Headers:          headers,
			TargetCollection: guessCollection(headers, profiles),
		}
	}

	trimmed := bytes.TrimSpace(text)
	if ext == ".json" || bytes.HasPrefix(trimmed, []byte("{")) || bytes.HasPrefix(trimmed, []byte("[")) {
		if res, err := parse.ParseStructured(text); err == nil {
			return DetectionResult{
				Format:           FormatJSON,
				Confidence:       confidenceSniffed,
				Headers:          res.Headers,
				TargetCollection: guessCollection(res.Headers, profiles),
			}
		}
	}

	delim, hits := dominantDelimiter(first)
	var headers []string
	for _, h := range parse.SplitLine(first, delim) {
		headers = append(headers, strings.TrimSpace(h))
	}

	res := DetectionResult{
		Format:           FormatCSV,
		Confidence:       confidenceFallback,
		Delimiter:        string(delim),
		Headers:          headers,
		TargetCollection: guessCollection(headers, profiles),
	}
	if hits > 0 {
		res.Confidence = confidenceDelimited
	}
	if delim == '\t' {
		res.Format = FormatTSV
	}

	if vendor, overlap := bestVendor(headers, profiles); vendor != "" {
		res.Format = SourceFormat(vendor)
		res.Confidence = math.Min(confidenceVendorCap, 0.5+0.1*float64(overlap))
	}
	return res
}

// DetectFormat runs Detect with the service's profiles.
func (s *Service) DetectFormat(content []byte, filename string) DetectionResult {
	return Detect(content, filename, s.profiles)
}

// dominantDelimiter returns the most frequent candidate delimiter on line
// and its count. Ties go to the earlier candidate; no hits means comma.
func dominantDelimiter(line string) (rune, int) {
	best, bestCount := ',', 0
	for _, d := range parse.Delimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount
}

// bestVendor returns the vendor whose dictionary recognises the most
// headers, provided it recognises at least minVendorOverlap.
func bestVendor(headers []string, profiles *schema.Profiles) (string, int) {
	best, bestOverlap := "", 0
	for i := range profiles.Vendors {
		v := &profiles.Vendors[i]
		if n := v.Overlap(headers); n >= minVendorOverlap && n > bestOverlap {
			best, bestOverlap = v.Name, n
		}
	}
	return best, bestOverlap
}

// guessCollection scores each collection signature against headers. A term
// hits when it and some header contain one another (compact form). The
// first collection with the highest score of at least minSignatureHits wins.
func guessCollection(headers []string, profiles *schema.Profiles) string {
	compact := make([]string, 0, len(headers))
	for _, h := range headers {
		if c := schema.Compact(h); c != "" {
			compact = append(compact, c)
		}
	}

	best, bestScore := "", 0
	for _, sig := range profiles.Collections {
		score := 0
		for _, term := range sig.Signature {
			if termHits(schema.Compact(term), compact) {
				score++
			}
		}
		if score >= minSignatureHits && score > bestScore {
			best, bestScore = sig.Name, score
		}
	}
	return best
}

func termHits(term string, headers []string) bool {
	if term == "" {
		return false
	}
	for _, h := range headers {
		if strings.Contains(h, term) {
			return true
		}
		if len(h) >= minReverseTermLen && strings.Contains(term, h) {
			return true
		}
	}
	return false
}
