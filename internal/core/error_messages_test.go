package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "state error maps by sentinel",
			err:         &StateError{BatchID: "b1", Op: "commit", Actual: StatusPending, Expected: []BatchStatus{StatusPreview}},
			wantCode:    "STATE001",
			wantMessage: "This action is not allowed in the batch's current state",
		},
		{
			name:        "wrapped not found",
			err:         fmt.Errorf("batch x: %w", ErrNotFound),
			wantCode:    "NF001",
			wantMessage: "The requested item was not found",
		},
		{
			name:        "generic format error",
			err:         fmt.Errorf("parse json content: %w: unexpected token", ErrFormat),
			wantCode:    "FMT001",
			wantMessage: "The content could not be read",
		},
		{
			name:        "bundle format error",
			err:         fmt.Errorf("%w: bundle has no version", ErrFormat),
			wantCode:    "FMT002",
			wantMessage: "The backup bundle is not valid",
		},
		{
			name:        "empty file",
			err:         fmt.Errorf("%w: no data rows", ErrFormat),
			wantCode:    "FMT003",
			wantMessage: "The file has no data rows",
		},
		{
			name:        "invalid request",
			err:         invalidf("name is required"),
			wantCode:    "REQ001",
			wantMessage: "The request is invalid",
		},
		{
			name:        "commit queue full",
			err:         fmt.Errorf("commit b1: %w", ErrTooManyCommits),
			wantCode:    "COMMIT001",
			wantMessage: "Too many imports are being committed",
		},
		{
			name:        "duplicate id from store",
			err:         errors.New("insert into invoices: duplicate id abc"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB002",
			wantMessage: "Unable to connect to the record store",
		},
		{
			name:        "deadline maps to timeout",
			err:         fmt.Errorf("commit: %w", context.DeadlineExceeded),
			wantCode:    "DB004",
			wantMessage: "Operation timed out",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE id"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := fmt.Errorf("batch 1: %w", ErrNotFound)
	result := FormatUserError(err)

	expected := "The requested item was not found (Code: NF001). Check the identifier and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error is not user facing", err: nil, want: false},
		{name: "known error is user facing", err: ErrStatePrecondition, want: true},
		{name: "unknown error is not user facing", err: errors.New("random internal error xyz"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("load batch: %w", ErrNotFound)
		userErr := NewUserError(techErr)

		if userErr.Error() != "The requested item was not found" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrNotFound) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
