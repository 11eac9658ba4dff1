package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("нет"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))

	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("X-Request-ID не выставлен")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("запись лога не JSON: %v", err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, ожидался WARN", entry["level"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("status = %v", entry["status"])
	}
	if entry["bytes"] != float64(len("нет")) {
		t.Errorf("bytes = %v", entry["bytes"])
	}
}

func TestRequestLogger_KeepsRequestID(t *testing.T) {
	h := RequestLogger(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestMetricsMiddleware_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/v1/user-accounts/{key}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/user-accounts/{key}", "200"))
	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/user-accounts/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/user-accounts/{key}", "200"))
	if after-before != 3 {
		t.Errorf("счётчик вырос на %v, ожидалось 3", after-before)
	}

	beforeMiss := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	if testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404"))-beforeMiss != 1 {
		t.Error("запрос без маршрута должен попадать в метку unmatched")
	}
}
