package core

import (
	"math"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/schema"
)

// Auto-match confidences.
const (
	confidenceVendor    = 0.95
	confidenceExact     = 1.0
	confidenceSubstring = 0.7
	wordMatchWeight     = 0.2
	wordMatchCap        = 0.6
	minMatchConfidence  = 0.1
	minSignificantWord  = 3
)

// MappingSuggestion is a proposed mapping for one source header. An empty
// TargetField means nothing scored high enough.
type MappingSuggestion struct {
	SourceField string    `json:"sourceField"`
	TargetField string    `json:"targetField"`
	Transform   Transform `json:"transform"`
	Confidence  float64   `json:"confidence"`
}

// Mapping converts the suggestion into a FieldMapping.
func (m MappingSuggestion) Mapping() FieldMapping {
	return FieldMapping{SourceField: m.SourceField, TargetField: m.TargetField, Transform: m.Transform}
}

// SuggestMappings proposes a target field for each source header. Vendor
// dictionaries for format are consulted first; otherwise every target is
// scored by name similarity and the first best score wins.
func SuggestMappings(format SourceFormat, headers, targets []string, profiles *schema.Profiles) []MappingSuggestion {
	if profiles == nil {
		profiles = schema.Default()
	}
	var vendor *schema.Vendor
	if name := format.VendorDictionary(); name != "" {
		vendor, _ = profiles.Vendor(name)
	}

	out := make([]MappingSuggestion, 0, len(headers))
	for _, h := range headers {
		if vendor != nil {
			if mapped, ok := vendor.Lookup(h); ok {
				if target, ok := findTarget(mapped, targets); ok {
					out = append(out, MappingSuggestion{
						SourceField: h,
						TargetField: target,
						Transform:   inferTransform(target),
						Confidence:  confidenceVendor,
					})
					continue
				}
			}
		}

		best, score := "", 0.0
		for _, t := range targets {
			if sc := matchScore(h, t); sc > score {
				best, score = t, sc
			}
		}
		if score < minMatchConfidence {
			out = append(out, MappingSuggestion{SourceField: h, Transform: TransformNone, Confidence: score})
			continue
		}
		out = append(out, MappingSuggestion{
			SourceField: h,
			TargetField: best,
			Transform:   inferTransform(best),
			Confidence:  score,
		})
	}
	return out
}

// SuggestMappings runs the package-level matcher with the service's profiles.
func (s *Service) SuggestMappings(format SourceFormat, headers, targets []string) []MappingSuggestion {
	return SuggestMappings(format, headers, targets, s.profiles)
}

// findTarget returns the caller's spelling of a dictionary target field.
func findTarget(mapped string, targets []string) (string, bool) {
	want := schema.Compact(mapped)
	for _, t := range targets {
		if schema.Compact(t) == want {
			return t, true
		}
	}
	return "", false
}

// matchScore compares a source header to a target field name.
func matchScore(source, target string) float64 {
	a, b := schema.Compact(source), schema.Compact(target)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return confidenceExact
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return confidenceSubstring
	}

	targetWords := make(map[string]bool)
	for _, w := range schema.Words(target) {
		targetWords[w] = true
	}
	shared := 0
	seen := make(map[string]bool)
	for _, w := range schema.Words(source) {
		if len(w) < minSignificantWord || seen[w] {
			continue
		}
		seen[w] = true
		if targetWords[w] {
			shared++
		}
	}
	return math.Min(wordMatchCap, wordMatchWeight*float64(shared))
}

// inferTransform picks a transform from the target field name.
func inferTransform(target string) Transform {
	lower := strings.ToLower(target)
	switch {
	case strings.Contains(lower, "date"):
		return TransformDate
	case strings.Contains(lower, "amount"), strings.Contains(lower, "cost"), strings.Contains(lower, "price"):
		return TransformNumber
	default:
		return TransformNone
	}
}
