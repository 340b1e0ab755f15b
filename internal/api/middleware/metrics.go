package middleware

import (
	"net/http"
	"strconv"

	"github.com/hszk-dev/mediadrop/internal/infrastructure/metrics"
)

// Metrics counts requests by method, chi route pattern and status code.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := wrapResponseWriter(w)
		defer func() {
			metrics.HTTPRequestsTotal.WithLabelValues(
				r.Method, routePattern(r), strconv.Itoa(wrapped.status),
			).Inc()
		}()
		next.ServeHTTP(wrapped, r)
	})
}
