package core

// error_messages.go maps technical errors to user-facing messages with a
// code support staff can look up.
//
// # Engine Errors
//
//	STATE001 - Wrong batch state: the operation is not allowed right now
//	           Action: Check the batch status and run the steps in order
//	           Match: ErrStatePrecondition
//
//	NF001    - Not found: the batch, job, template or collection does not exist
//	           Action: Check the identifier and try again
//	           Match: ErrNotFound
//
//	FMT001   - Unreadable content: the file could not be parsed
//	           Action: Check the format, delimiter and header line
//	           Match: ErrFormat
//
//	FMT002   - Bad backup bundle: version or collections missing
//	           Action: Use a bundle produced by a backup of this service
//	           Patterns: "bundle"
//
//	FMT003   - Empty file: no data rows found
//	           Action: Upload a file with a header line and at least one row
//	           Patterns: "no data rows", "missing header line"
//
//	REQ001   - Invalid request: a parameter is missing or malformed
//	           Action: Correct the request and try again
//	           Match: ErrInvalidRequest
//
//	COMMIT001 - Too many commits: the commit queue is full
//	            Action: Please wait a moment and try again
//	            Match: ErrTooManyCommits
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Duplicate id: a record with this id already exists
//	DB002 - Connection refused: unable to reach the record store
//	DB003 - Connection reset: the record store connection was interrupted
//	DB004 - Timeout: the operation timed out
//	DB005 - Cancelled: the request was cancelled
//
// # Rate Limiting
//
//	RATE001 - Too many requests
//
// # Default (ERR000)
//
// Returned when nothing matches. The technical error is in the logs.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage is a user-facing error description.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages are matched with errors.Is before any pattern.
// FMT003 and FMT002 refine ErrFormat, so they are checked as patterns first.
var sentinelMessages = []sentinelMessage{
	{
		target: ErrStatePrecondition,
		msg: UserMessage{
			Message: "This action is not allowed in the batch's current state",
			Action:  "Check the batch status and run the steps in order",
			Code:    "STATE001",
		},
	},
	{
		target: ErrNotFound,
		msg: UserMessage{
			Message: "The requested item was not found",
			Action:  "Check the identifier and try again",
			Code:    "NF001",
		},
	},
	{
		target: ErrInvalidRequest,
		msg: UserMessage{
			Message: "The request is invalid",
			Action:  "Correct the request and try again",
			Code:    "REQ001",
		},
	},
	{
		target: ErrTooManyCommits,
		msg: UserMessage{
			Message: "Too many imports are being committed",
			Action:  "Please wait a moment and try again",
			Code:    "COMMIT001",
		},
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var formatPatterns = []errorPattern{
	{
		pattern: "bundle",
		msg: UserMessage{
			Message: "The backup bundle is not valid",
			Action:  "Use a bundle produced by a backup of this service",
			Code:    "FMT002",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has no data rows",
			Action:  "Upload a file with a header line and at least one row",
			Code:    "FMT003",
		},
	},
	{
		pattern: "missing header line",
		msg: UserMessage{
			Message: "The file has no data rows",
			Action:  "Upload a file with a header line and at least one row",
			Code:    "FMT003",
		},
	},
}

var formatMessage = UserMessage{
	Message: "The content could not be read",
	Action:  "Check the format, delimiter and header line",
	Code:    "FMT001",
}

var errorPatterns = []errorPattern{
	{
		pattern: "duplicate",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Remove the id mapping or use the overwrite strategy",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the record store",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "The record store connection was interrupted",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB004",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Engine
// sentinels are matched first, then message patterns (case-insensitive).
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	if errors.Is(err, ErrFormat) {
		for _, ep := range formatPatterns {
			if strings.Contains(errStr, ep.pattern) {
				return ep.msg
			}
		}
		return formatMessage
	}
	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. It returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
