// metrics.go — Prometheus HTTP метрики Dispensing Module:
// dm_http_requests_total, dm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Dispensing Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Dispensing Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// unmatchedRoute — метка пути для запросов без маршрута.
const unmatchedRoute = "unmatched"

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Метка path — шаблон маршрута chi (/api/v1/user-accounts/{key}), что
// ограничивает кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern возвращает шаблон маршрута chi после обработки запроса.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
