package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/ledgermigrate/internal/core"
)

// maxJSONBody bounds JSON request bodies. Upload bodies are bounded by the
// engine's content limit instead.
const maxJSONBody = 8 << 20

// requestMeta attaches the request ID, client IP, user agent and actor to
// the context so history entries and events can carry them.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr // Already processed by TrustedRealIP
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		meta := core.RequestMeta{
			RequestID: middleware.GetReqID(r.Context()),
			IPAddress: ip,
			UserAgent: r.UserAgent(),
			Actor:     r.Header.Get("X-Actor"),
		}
		next.ServeHTTP(w, r.WithContext(core.WithRequestMeta(r.Context(), meta)))
	})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("%w: invalid JSON body: %v", core.ErrInvalidRequest, err)
	}
	return nil
}

// readBody reads a raw body up to limit bytes. Larger bodies are rejected.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", core.ErrInvalidRequest, limit)
	}
	return data, nil
}
