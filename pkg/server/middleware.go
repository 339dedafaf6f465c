package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/muthuks2020/reasona/internal/observability"
	metrics "github.com/muthuks2020/reasona/pkg/observability"
)

// responseWriter captures the status code written by a handler
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher for SSE responses
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records a span and a Prometheus sample per request,
// labelled with the matched chi route pattern.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := observability.ExtractHTTP(r.Context(), r.Header)
		ctx, span := observability.StartSpan(ctx, "http.request", map[string]any{
			"http.method": r.Method,
			"http.path":   r.URL.Path,
		})
		defer span.End()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(wrapped, r)

		d := time.Since(start)
		span.SetAttribute("http.status_code", wrapped.statusCode)
		span.SetAttribute("http.response_size", wrapped.size)
		metrics.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(wrapped.statusCode), d)

		if wrapped.statusCode >= http.StatusInternalServerError {
			s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode,
				"trace_id", observability.TraceID(ctx))
		} else {
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", d)
		}
	})
}

// routePattern returns the matched pattern, e.g. "/agents/{agent}/think",
// falling back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// rateLimitMiddleware applies the per-client limiter keyed on the remote host
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientID(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
