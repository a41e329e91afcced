// metrics.go — Prometheus HTTP метрики Document Module.
// Регистрирует метрики: dm_http_requests_total, dm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Document Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Document Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет UUID-сегменты пути на {id}, чтобы число
// комбинаций лейблов не зависело от количества документов.
// /api/v1/documents/a1b2.../versions/c3d4.../restore → /api/v1/documents/{id}/versions/{id}/restore
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		switch {
		case isUUID(s):
			segments[i] = "{id}"
		case i > 0 && segments[i-1] == "blobs" && s != "":
			// Ключи объектов в локальном хранилище.
			return strings.Join(segments[:i], "/") + "/{key}"
		}
	}
	return strings.Join(segments, "/")
}

// isUUID — каноническая запись UUID (8-4-4-4-12).
func isUUID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}
