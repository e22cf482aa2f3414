package core

import (
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// MappedRow is a source row after field mapping: target field names with
// transformed values, in mapping order. It is what rules, the diff engine
// and the committer see.
type MappedRow struct {
	// Number is the 1-based position of the row among the data rows.
	Number int
	// Type is the ledger record type the source row carried, if any.
	Type string

	fields []string
	values map[string]any
}

func newMappedRow(number int) MappedRow {
	return MappedRow{Number: number, values: make(map[string]any)}
}

func (m *MappedRow) set(field string, v any) {
	if _, exists := m.values[field]; !exists {
		m.fields = append(m.fields, field)
	}
	m.values[field] = v
}

// Has reports whether the mapping produced field.
func (m MappedRow) Has(field string) bool {
	_, ok := m.values[field]
	return ok
}

// Get returns the mapped value for field.
func (m MappedRow) Get(field string) (any, bool) {
	v, ok := m.values[field]
	return v, ok
}

// String returns the stringified value for field, "" when absent.
func (m MappedRow) String(field string) string {
	return record.Stringify(m.values[field])
}

// Fields returns the mapped field names in mapping order.
func (m MappedRow) Fields() []string {
	return append([]string(nil), m.fields...)
}

// Record returns the mapped values as a storable record.
func (m MappedRow) Record() record.Record {
	rec := make(record.Record, len(m.values))
	for k, v := range m.values {
		rec[k] = v
	}
	return rec
}

// mapRow applies mappings to a source row. With no mappings every source
// field maps to itself untransformed. Source fields absent from the row are
// left absent in the result.
func mapRow(number int, row record.Row, mappings []FieldMapping) MappedRow {
	m := newMappedRow(number)
	m.Type = row.Type

	if len(mappings) == 0 {
		for _, f := range row.Fields {
			if m.Has(f.Name) {
				continue
			}
			m.set(f.Name, stripFormula(f.Value))
		}
		return m
	}

	for _, fm := range mappings {
		if strings.TrimSpace(fm.TargetField) == "" {
			continue
		}
		raw, ok := row.Get(fm.SourceField)
		if !ok {
			continue
		}
		m.set(fm.TargetField, ApplyTransform(stripFormula(raw), fm.Transform))
	}
	return m
}

// mapRows maps every row of a batch.
func mapRows(rows []record.Row, mappings []FieldMapping) []MappedRow {
	out := make([]MappedRow, len(rows))
	for i, r := range rows {
		out[i] = mapRow(i+1, r, mappings)
	}
	return out
}
