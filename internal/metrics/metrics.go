// Package metrics provides Prometheus instrumentation for the toolpay service.
package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolpay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "toolpay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowLocksTotal counts opened escrows by denom.
	EscrowLocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolpay",
			Name:      "escrow_locks_total",
			Help:      "Total escrows opened, by denom.",
		},
		[]string{"denom"},
	)

	// EscrowSettlementsTotal counts settled escrows by outcome and denom.
	EscrowSettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolpay",
			Name:      "escrow_settlements_total",
			Help:      "Total escrow settlements by outcome (released, refunded) and denom.",
		},
		[]string{"outcome", "denom"},
	)

	// FeesCollectedTotal accumulates protocol fees by denom (base units).
	FeesCollectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "toolpay",
			Name:      "escrow_fees_collected_total",
			Help:      "Total protocol fees accrued, by denom, in base units.",
		},
		[]string{"denom"},
	)

	// PendingEscrows tracks the number of currently pending escrows.
	PendingEscrows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolpay",
			Name:      "pending_escrows",
			Help:      "Number of currently pending escrows.",
		},
	)

	// ExpiredRefundsSwept counts refunds processed by the expiry sweeper.
	ExpiredRefundsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "toolpay",
			Name:      "expired_refunds_swept_total",
			Help:      "Total expired escrows refunded by the background sweeper.",
		},
	)

	// ActiveWebSocketClients tracks connected settlement-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "toolpay",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolpay", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "toolpay", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowLocksTotal,
		EscrowSettlementsTotal,
		FeesCollectedTotal,
		PendingEscrows,
		ExpiredRefundsSwept,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments HTTP requests. Uses the route pattern, not the
// raw URL, to keep label cardinality bounded.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusLabel(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// StartDBStatsCollector updates DB pool gauges until ctx is cancelled.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
		}
	}
}
