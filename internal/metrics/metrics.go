// Package metrics provides Prometheus instrumentation for the exchange engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts processed commands by type and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opinex_commands_total",
		Help: "Total commands processed",
	}, []string{"type", "status"})

	// CommandLatency tracks end-to-end command processing time by type.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opinex_command_latency_seconds",
		Help:    "Command processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradesTotal counts executed trades, partitioned by contract side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opinex_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// PairsMinted counts contract pairs created against locked cash.
	PairsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opinex_pairs_minted_total",
		Help: "Total YES/NO contract pairs minted",
	})

	// ActiveEvents tracks the number of open event books.
	ActiveEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opinex_active_events",
		Help: "Number of currently open event order books",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opinex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opinex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opinex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
