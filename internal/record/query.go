package record

import (
	"strconv"
	"strings"
)

// Operator is a comparison applied by a Filter.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
)

// Filter is one where-clause. For OpIn, Value must be a []string.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Query is a conjunction of filters.
type Query struct {
	Filters []Filter
	Limit   int
}

// Where starts a query with one filter.
func Where(field string, op Operator, value any) Query {
	return Query{}.Where(field, op, value)
}

// Where appends a filter and returns the extended query.
func (q Query) Where(field string, op Operator, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// Matches evaluates the query against rec in memory.
func (q Query) Matches(rec Record) bool {
	for _, f := range q.Filters {
		if !f.Matches(rec) {
			return false
		}
	}
	return true
}

// Matches evaluates a single filter. Comparisons work on stringified values;
// ordering operators compare numerically when both sides parse as numbers.
func (f Filter) Matches(rec Record) bool {
	got := Stringify(rec[f.Field])
	switch f.Op {
	case OpEq, "":
		return got == Stringify(f.Value)
	case OpNe:
		return got != Stringify(f.Value)
	case OpContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(Stringify(f.Value)))
	case OpIn:
		values, _ := f.Value.([]string)
		for _, v := range values {
			if got == v {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(f.Op, got, Stringify(f.Value))
	default:
		return false
	}
}

func compareOrdered(op Operator, a, b string) bool {
	var cmp int
	af, errA := strconv.ParseFloat(a, 64)
	bf, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(a, b)
	}

	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	default:
		return cmp <= 0
	}
}
