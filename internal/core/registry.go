package core

// registry.go maps source formats to parsers.
//
// Each Service owns its registry, so tests and embedders can add formats
// without touching shared state.

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/ledgermigrate/internal/parse"
)

// ParseOptions carries the per-batch parser settings.
type ParseOptions struct {
	Delimiter rune
	Widths    []int
}

// ParseFunc parses raw content into rows.
type ParseFunc func(content []byte, opts ParseOptions) (*parse.Result, error)

// ParserRegistry is a concurrency-safe format-to-parser table.
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[SourceFormat]ParseFunc
}

// NewParserRegistry returns a registry holding the built-in formats.
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{parsers: make(map[SourceFormat]ParseFunc)}

	delimited := func(content []byte, opts ParseOptions) (*parse.Result, error) {
		return parse.ParseDelimited(content, opts.Delimiter)
	}
	r.Register(FormatCSV, delimited)
	r.Register(FormatTSV, func(content []byte, opts ParseOptions) (*parse.Result, error) {
		if opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
		return parse.ParseDelimited(content, opts.Delimiter)
	})
	r.Register(FormatQuickBooks, delimited)
	r.Register(FormatXero, delimited)
	r.Register(FormatSage, delimited)
	r.Register(FormatFixedWidth, func(content []byte, opts ParseOptions) (*parse.Result, error) {
		return parse.ParseFixedWidth(content, opts.Widths)
	})
	r.Register(FormatJSON, func(content []byte, _ ParseOptions) (*parse.Result, error) {
		return parse.ParseStructured(content)
	})
	r.Register(FormatIIF, func(content []byte, _ ParseOptions) (*parse.Result, error) {
		return parse.ParseLedger(content)
	})
	r.Register(FormatXLSX, func(content []byte, _ ParseOptions) (*parse.Result, error) {
		return parse.ParseSpreadsheet(content)
	})
	return r
}

// Register adds or replaces the parser for format.
func (r *ParserRegistry) Register(format SourceFormat, fn ParseFunc) {
	if format == "" || fn == nil {
		panic(fmt.Sprintf("core: invalid parser registration for %q", format))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[format] = fn
}

// Get returns the parser for format.
func (r *ParserRegistry) Get(format SourceFormat) (ParseFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.parsers[format]
	return fn, ok
}

// Formats lists registered formats alphabetically.
func (r *ParserRegistry) Formats() []SourceFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceFormat, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
