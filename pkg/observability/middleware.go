package observability

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware records request count, latency and in-flight gauge for
// every HTTP request. The route label is the ServeMux pattern that matched
// (r.Pattern), so the middleware must wrap the mux, not sit inside it.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		InFlightRequests.Inc()
		defer InFlightRequests.Dec()

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := routeLabel(r)
		RequestsTotal.WithLabelValues(r.Method, statusClass(rec.Status()), route).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

// statusClass folds a status code into "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// statusRecorder remembers the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) Status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
