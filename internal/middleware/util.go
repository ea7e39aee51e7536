package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/common/helpers/templates"
)

type ctxKey struct{}

const (
	reqIDKey         = "request_id"
	headerRequestID  = "X-Request-Id"
	headerTraceID    = "X-Trace-Id"
	headerForwardFor = "X-Forwarded-For"
)

// GetRequestID returns the request ID stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// extractRequestID retrieves X-Request-Id or X-Trace-Id from the request.
// If not present, it generates a new one.
func extractRequestID(r *http.Request) string {
	if id := r.Header.Get(headerRequestID); id != "" {
		return id
	}
	if id := r.Header.Get(headerTraceID); id != "" {
		return id
	}
	return uuid.New().String()
}

// getClientIP returns the first X-Forwarded-For hop, or the peer address
// without its port.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get(headerForwardFor); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func humanizeDuration(d time.Duration) string {
	s, err := templates.HumanizeDuration(d)
	if err != nil {
		return d.String()
	}
	return s
}
