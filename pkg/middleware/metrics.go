// Package middleware holds the HTTP middleware searchd wraps its routes in.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/metrics"
)

// Metrics counts requests and observes their latency per route. A nil m
// disables it.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			m.HTTPRequestsInFlight.Dec()
			route := normalizePath(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.statusCode())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

// statusRecorder remembers the first status code written. A handler that
// only calls Write has implicitly sent 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) statusCode() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

const projectsPrefix = "/api/v1/projects/"

// normalizePath replaces the project name in /api/v1/projects/{name}/...
// with a placeholder so the label set stays bounded.
func normalizePath(path string) string {
	name, rest, ok := strings.Cut(strings.TrimPrefix(path, projectsPrefix), "/")
	switch {
	case !strings.HasPrefix(path, projectsPrefix) || name == "":
		return path
	case ok:
		return projectsPrefix + ":project/" + rest
	default:
		return projectsPrefix + ":project"
	}
}
