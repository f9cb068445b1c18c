package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nkiryanov/gophauth/internal/metrics"
)

// MetricsMiddleware observes request latency by method and response status
func MetricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := newLogWriter(w)

			next.ServeHTTP(lw, r)

			m.HTTPRequestDuration.
				WithLabelValues(r.Method, strconv.Itoa(lw.data.responseStatus)).
				Observe(time.Since(start).Seconds())
		})
	}
}
