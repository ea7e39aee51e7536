// Package middleware holds the HTTP middleware of the store server.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/uber-go/tally/v4"
	"golang.org/x/time/rate"
)

// RequestID makes sure every request carries an ID. The ID is echoed in
// the response header and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := extractRequestID(r)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RateLimit rejects requests with 429 once lim runs dry. A nil limiter
// lets everything through.
func RateLimit(lim *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if lim == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Telemetry logs each request and reports request counts, latency and the
// number of requests in flight under scope.
func Telemetry(scope tally.Scope, logger *slog.Logger) mux.MiddlewareFunc {
	var active atomic.Int64
	inflight := scope.Gauge("http_active_requests")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inflight.Update(float64(active.Add(1)))
			defer func() { inflight.Update(float64(active.Add(-1))) }()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			tagged := scope.Tagged(map[string]string{
				"method": r.Method,
				"route":  route,
				"status": strconv.Itoa(rec.status),
			})
			tagged.Counter("http_requests_total").Inc(1)
			tagged.Timer("http_request_duration").Record(duration)

			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", rec.status,
				"client_ip", getClientIP(r),
				"duration", humanizeDuration(duration),
				reqIDKey, GetRequestID(r.Context()),
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Error("[kvbulk.http] request failed", attrs...)
				return
			}
			logger.Debug("[kvbulk.http] request completed", attrs...)
		})
	}
}
