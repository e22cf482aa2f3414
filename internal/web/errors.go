package web

// errors.go maps engine errors to HTTP responses.
//
// The flow:
//  1. A handler gets an error from the engine and calls respondError.
//  2. core.MapError yields the user message and code.
//  3. statusFor picks the HTTP status from the sentinel the error wraps.
//  4. The technical error is logged with the request ID; the client gets
//     the user message, plus the error text for 4xx responses.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
	"github.com/JonMunkholm/ledgermigrate/internal/logging"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Action string `json:"action,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// statusFor returns the HTTP status for an engine error.
func statusFor(err error) int {
	switch {
	case core.IsStateError(err):
		return http.StatusConflict
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFormat), errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyCommits):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	detail := ""
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeError(w, status, msg, detail)
}

// badRequest answers 400 for malformed input caught before the engine.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	s.respondError(w, r, fmt.Errorf("%w: %s", core.ErrInvalidRequest, fmt.Sprintf(format, args...)))
}

func writeError(w http.ResponseWriter, status int, msg core.UserMessage, detail string) {
	writeJSON(w, status, ErrorResponse{
		Error:  msg.Message,
		Code:   msg.Code,
		Action: msg.Action,
		Detail: detail,
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
