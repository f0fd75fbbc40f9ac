package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// HTTPMiddleware wraps an HTTP handler to collect metrics.
// It records request count, duration, size, and tracks in-flight requests.
//
// Usage:
//
//	handler := metrics.HTTPMiddleware(m, mux)
func HTTPMiddleware(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200
		}

		next.ServeHTTP(wrapped, r)

		size := r.ContentLength
		if size < 0 {
			size = 0
		}

		// The mux records the matched pattern on the request.
		path := r.Pattern
		if path == "" {
			path = normalizePath(r.URL.Path)
		}

		m.RecordHTTP(r.Method, path, wrapped.statusCode, time.Since(start).Seconds(), size)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code and calls the underlying WriteHeader.
func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write ensures status code is set before writing.
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(w.statusCode)
	}
	return w.ResponseWriter.Write(b)
}

var pathPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`^/v1/spans/[^/]+/stages/[^/]+$`), "/v1/spans/{id}/stages/{stage}"},
	{regexp.MustCompile(`^/v1/spans/[^/]+/start$`), "/v1/spans/{id}/start"},
	{regexp.MustCompile(`^/v1/spans/[^/]+$`), "/v1/spans/{id}"},
}

// normalizePath normalizes HTTP paths to reduce cardinality for metrics.
// Request ids and stage names become placeholders.
func normalizePath(path string) string {
	// Fast path: common static routes
	switch path {
	case "/", "/healthz", "/metrics",
		"/v1/governance/evaluate", "/v1/spans/stats", "/v1/records",
		"/v1/reports", "/v1/alerts", "/v1/thresholds", "/v1/thresholds/reload":
		return path
	}

	for _, p := range pathPatterns {
		if p.re.MatchString(path) {
			return p.replacement
		}
	}
	return "other"
}

// statusCode converts HTTP status code to string for metric label.
// Groups codes into categories to reduce cardinality.
func statusCode(code int) string {
	switch code {
	case 200, 201, 204, 400, 404, 405, 409, 429, 500, 503:
		return strconv.Itoa(code)
	}

	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	}

	// Fallback for invalid codes
	return strconv.Itoa(code)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker if the underlying ResponseWriter supports it.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}
