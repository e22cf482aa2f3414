package core

// validation.go applies caller-declared rules to mapped rows.
//
// Rules are not persisted; each validation call supplies the full set and
// its results replace whatever the previous call recorded. required and
// referentialIntegrity failures block the row (severity error); everything
// else is advisory (severity warning).

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
)

// RuleKind selects a rule's check.
type RuleKind string

const (
	RuleRequired             RuleKind = "required"
	RuleDataType             RuleKind = "dataType"
	RulePattern              RuleKind = "pattern"
	RuleRange                RuleKind = "range"
	RuleReferentialIntegrity RuleKind = "referentialIntegrity"
	RuleCustom               RuleKind = "custom"
)

// DataType is the expected type for a dataType rule.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeDate    DataType = "date"
	TypeBoolean DataType = "boolean"
	TypeEmail   DataType = "email"
)

// ValidationRule is one declarative check on a mapped field.
type ValidationRule struct {
	Field string   `json:"field" validate:"required"`
	Kind  RuleKind `json:"kind" validate:"required,oneof=required dataType pattern range referentialIntegrity custom"`

	DataType DataType `json:"dataType,omitempty" validate:"omitempty,oneof=string number date boolean email"`
	Pattern  string   `json:"pattern,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`

	// Collection and ReferenceField name the record a referentialIntegrity
	// value must exist as. ReferenceField defaults to "id".
	Collection     string `json:"collection,omitempty"`
	ReferenceField string `json:"referenceField,omitempty"`

	// Message overrides the default failure message.
	Message string `json:"message,omitempty"`

	// Predicate implements a custom rule. It receives the stringified value
	// and the whole mapped row.
	Predicate func(value string, row MappedRow) bool `json:"-"`
}

// Severity returns the severity a failure of this rule carries.
func (r ValidationRule) Severity() Severity {
	if r.Kind == RuleRequired || r.Kind == RuleReferentialIntegrity {
		return SeverityError
	}
	return SeverityWarning
}

func (r ValidationRule) message(def string) string {
	if r.Message != "" {
		return r.Message
	}
	return def
}

// ValidationResult summarises one validation run.
type ValidationResult struct {
	BatchID      string        `json:"batchId"`
	Valid        bool          `json:"valid"`
	ErrorCount   int           `json:"errorCount"`
	WarningCount int           `json:"warningCount"`
	Errors       []ImportError `json:"errors"`
}

// RowValidator checks mapped rows against a prepared rule set.
type RowValidator struct {
	rules    []ValidationRule
	patterns map[int]*regexp.Regexp
}

// NewRowValidator compiles patterns and rejects rules missing the
// parameters their kind needs.
func NewRowValidator(rules []ValidationRule) (*RowValidator, error) {
	v := &RowValidator{rules: rules, patterns: make(map[int]*regexp.Regexp)}
	for i, r := range rules {
		switch r.Kind {
		case RuleDataType:
			if r.DataType == "" {
				return nil, invalidf("rule %d (%s): dataType rule needs a dataType", i+1, r.Field)
			}
		case RulePattern:
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, invalidf("rule %d (%s): bad pattern: %v", i+1, r.Field, err)
			}
			v.patterns[i] = re
		case RuleRange:
			if r.Min == nil && r.Max == nil {
				return nil, invalidf("rule %d (%s): range needs min or max", i+1, r.Field)
			}
		case RuleReferentialIntegrity:
			if r.Collection == "" {
				return nil, invalidf("rule %d (%s): referentialIntegrity rule needs a collection", i+1, r.Field)
			}
		case RuleCustom:
			if r.Predicate == nil {
				return nil, invalidf("rule %d (%s): custom rule has no predicate", i+1, r.Field)
			}
		}
	}
	return v, nil
}

// ValidateRow returns every rule failure for row. BatchID is left empty.
func (v *RowValidator) ValidateRow(row MappedRow) []ImportError {
	var issues []ImportError
	for i, r := range v.rules {
		value := row.String(r.Field)
		msg, failed := v.check(i, r, value, row)
		if !failed {
			continue
		}
		issues = append(issues, ImportError{
			RowNumber: row.Number,
			Field:     r.Field,
			Value:     value,
			Message:   msg,
			Severity:  r.Severity(),
			Stage:     StageValidation,
		})
	}
	return issues
}

// check returns the failure message and true when the rule fails.
func (v *RowValidator) check(i int, r ValidationRule, value string, row MappedRow) (string, bool) {
	empty := strings.TrimSpace(value) == ""

	switch r.Kind {
	case RuleRequired:
		if empty {
			return r.message(fmt.Sprintf("%s is required", r.Field)), true
		}

	case RuleDataType:
		if empty {
			return "", false
		}
		if !matchesType(r.DataType, value) {
			return r.message(fmt.Sprintf("%s must be a valid %s", r.Field, r.DataType)), true
		}

	case RulePattern:
		if empty {
			return "", false
		}
		if !v.patterns[i].MatchString(value) {
			return r.message(fmt.Sprintf("%s does not match the required format", r.Field)), true
		}

	case RuleRange:
		if empty {
			return "", false
		}
		n, ok := ParseNumber(value)
		if !ok {
			return r.message(fmt.Sprintf("%s must be numeric", r.Field)), true
		}
		if r.Min != nil && n < *r.Min {
			return r.message(fmt.Sprintf("%s must be at least %s", r.Field, formatFloat(*r.Min))), true
		}
		if r.Max != nil && n > *r.Max {
			return r.message(fmt.Sprintf("%s must be at most %s", r.Field, formatFloat(*r.Max))), true
		}

	case RuleReferentialIntegrity:
		// Checked at preview and commit, where the referenced collection is
		// available.

	case RuleCustom:
		if !r.Predicate(value, row) {
			return r.message(fmt.Sprintf("%s failed custom validation", r.Field)), true
		}
	}
	return "", false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func matchesType(t DataType, value string) bool {
	switch t {
	case TypeNumber:
		_, ok := ParseNumber(value)
		return ok
	case TypeDate:
		_, ok := ParseDate(value)
		return ok
	case TypeBoolean:
		_, ok := ParseBool(value)
		return ok
	case TypeEmail:
		addr, err := mail.ParseAddress(value)
		return err == nil && addr.Address == strings.TrimSpace(value)
	default:
		return true
	}
}

// referenceRules returns the referentialIntegrity rules of a rule set with
// their defaults filled in.
func referenceRules(rules []ValidationRule) []ValidationRule {
	var out []ValidationRule
	for _, r := range rules {
		if r.Kind != RuleReferentialIntegrity {
			continue
		}
		if r.ReferenceField == "" {
			r.ReferenceField = "id"
		}
		r.Predicate = nil
		out = append(out, r)
	}
	return out
}

// countSeverities tallies issues by severity.
func countSeverities(issues []ImportError) (errs, warnings int) {
	for _, e := range issues {
		if e.Severity == SeverityError {
			errs++
		} else {
			warnings++
		}
	}
	return errs, warnings
}
