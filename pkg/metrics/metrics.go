// Package metrics holds the process-wide Prometheus collectors.
//
// Collectors register with the default registry at init via promauto, so the
// helpers below are safe to call from any package and from tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iris_token_verifications_total",
		Help: "Session token verifications by outcome (valid, invalid).",
	}, []string{"outcome"})

	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iris_tokens_issued_total",
		Help: "Session tokens issued by type.",
	}, []string{"type"})

	syncItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iris_workspace_sync_items_total",
		Help: "Memberships processed by the workspace synchronizer by outcome (synced, skipped, failed).",
	}, []string{"outcome"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "iris_workspace_sync_duration_seconds",
		Help:    "Duration of a full synchronization pass for one user.",
		Buckets: prometheus.DefBuckets,
	})

	authorityLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iris_identity_authority_request_duration_seconds",
		Help:    "Identity authority request latency by operation and result.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iris_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iris_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

func TokenVerified(outcome string) { tokenVerifications.WithLabelValues(outcome).Inc() }

func TokenIssued(tokenType string) { tokensIssued.WithLabelValues(tokenType).Inc() }

func SyncItem(outcome string) { syncItems.WithLabelValues(outcome).Inc() }

func ObserveSync(d time.Duration) { syncDuration.Observe(d.Seconds()) }

func ObserveAuthority(operation, result string, d time.Duration) {
	authorityLatency.WithLabelValues(operation, result).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records per-route request counters and latency.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
