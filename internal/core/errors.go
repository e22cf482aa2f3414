package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/parse"
	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

var (
	// ErrStatePrecondition marks an operation invoked in the wrong batch state.
	ErrStatePrecondition = errors.New("state precondition failed")

	// ErrNotFound marks a missing batch, record, job or collection.
	ErrNotFound = record.ErrNotFound

	// ErrFormat marks unparseable source content or backup bundles.
	ErrFormat = parse.ErrFormat

	// ErrInvalidRequest marks caller input that fails validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// StateError reports an operation attempted outside its allowed states.
type StateError struct {
	BatchID  string
	Op       string
	Actual   BatchStatus
	Expected []BatchStatus
}

func (e *StateError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = string(s)
	}
	return fmt.Sprintf("cannot %s batch %s: status is %s, expected %s",
		e.Op, e.BatchID, e.Actual, strings.Join(expected, " or "))
}

func (e *StateError) Unwrap() error {
	return ErrStatePrecondition
}

// requireStatus returns a *StateError unless b is in one of allowed.
func requireStatus(b *ImportBatch, op string, allowed ...BatchStatus) error {
	for _, s := range allowed {
		if b.Status == s {
			return nil
		}
	}
	return &StateError{BatchID: b.ID, Op: op, Actual: b.Status, Expected: allowed}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStateError reports whether err is a state-precondition error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrStatePrecondition)
}
