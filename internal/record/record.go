// Package record defines the contract between the migration engine and the
// generic collection store it reads from and writes to.
//
// Two row shapes exist. A Row is what a parser produces: an ordered list of
// (field name, raw string) pairs taken straight from the source content. A
// Record is the stored form: a string-keyed document carrying an "id".
package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IDField is the key every stored record is addressed by.
const IDField = "id"

// ErrNotFound is returned when a record or collection does not exist.
var ErrNotFound = errors.New("not found")

// Field is one (name, raw value) pair of a parsed row.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Row is a pre-mapping source row. Field order follows the source header.
type Row struct {
	// Type is the originating record-type tag for ledger-exchange rows
	// (TRNS, SPL, ...). Empty for every other format.
	Type   string  `json:"type,omitempty"`
	Fields []Field `json:"fields"`
}

// NewRow builds a row from parallel header and value slices. Missing values
// are stored as empty strings.
func NewRow(headers, values []string) Row {
	fields := make([]Field, len(headers))
	for i, h := range headers {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		fields[i] = Field{Name: h, Value: v}
	}
	return Row{Fields: fields}
}

// Get returns the raw value for name. The first occurrence wins when a
// header is repeated.
func (r Row) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Names returns the field names in source order.
func (r Row) Names() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Values returns the raw values in source order.
func (r Row) Values() []string {
	values := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		values[i] = f.Value
	}
	return values
}

// Null, as a value in an Update patch, sets the field to JSON null. A plain
// nil removes the field instead.
var Null = nullValue{}

type nullValue struct{}

func (nullValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func (nullValue) String() string { return "" }

// Record is a stored document.
type Record map[string]any

// ID returns the record identifier, or "" when unset.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	return Stringify(r[IDField])
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case Record:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Keys returns the record's field names sorted alphabetically.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stringify renders a stored value the way key matching and serialisation
// compare it. nil becomes the empty string; whole floats drop the fraction.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Collection is one named set of records.
type Collection interface {
	Name() string
	Get(ctx context.Context, id string) (Record, error)
	// Insert stores rec, assigning an id when rec has none, and returns the
	// stored record.
	Insert(ctx context.Context, rec Record) (Record, error)
	// Update merges patch into the record with the given id. A nil value in
	// patch removes the field; Null stores an explicit null.
	Update(ctx context.Context, id string, patch Record) (Record, error)
	Remove(ctx context.Context, id string) error
	Find(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, q Query) (int, error)
	// All returns the full contents ordered by id.
	All(ctx context.Context) ([]Record, error)
}

// Store resolves collections by name.
type Store interface {
	Collection(ctx context.Context, name string) (Collection, error)
	// Collections lists the names of collections holding at least one record.
	Collections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// First runs q and returns the first match, or ErrNotFound.
func First(ctx context.Context, c Collection, q Query) (Record, error) {
	q.Limit = 1
	recs, err := c.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", c.Name(), ErrNotFound)
	}
	return recs[0], nil
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidName reports whether name is usable as a collection name.
func ValidName(name string) bool {
	if name == "" || len(name) > 128 {
		return false
	}
	return !strings.ContainsAny(name, " \t\r\n/\\\"'")
}
