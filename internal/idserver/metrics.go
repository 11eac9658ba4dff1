package idserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/meddispense/dispensing-module/internal/domain/model"
)

var (
	idsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_identity_server_requests_total",
		Help: "Количество запросов аутентификации к identity server по коду результата.",
	}, []string{"result_code"})

	idsRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_identity_server_request_duration_seconds",
		Help:    "Длительность запроса токена к identity server.",
		Buckets: prometheus.DefBuckets,
	})
)

// observeRequest учитывает запрос к identity server. Нулевая длительность —
// запрос не выполнялся.
func observeRequest(code model.AuthenticationResultCode, d time.Duration) {
	idsRequestsTotal.WithLabelValues(string(code)).Inc()
	if d > 0 {
		idsRequestDuration.Observe(d.Seconds())
	}
}
