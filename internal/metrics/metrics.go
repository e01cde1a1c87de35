// Package metrics provides Prometheus instrumentation for the session engine.
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
	// EventsPublished counts events entering the queue, by kind.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_events_published_total",
		Help: "Total number of events published to the event queue",
	}, []string{"kind"})

	// EventsDelivered counts event deliveries to subscribers, by kind.
	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_events_delivered_total",
		Help: "Total number of event deliveries to subscribers",
	}, []string{"kind"})

	// TimeEvents counts time events emitted by a controller, by rule.
	TimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_time_events_total",
		Help: "Total number of time events emitted",
	}, []string{"rule"})

	// SessionTime tracks the session clock as unix seconds.
	SessionTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_clock_unix_seconds",
		Help: "Current notional time of the trading session",
	})

	// LiveWait observes how long the live controller slept before an event.
	LiveWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_live_wait_seconds",
		Help:    "Time spent waiting for the next scheduled time event",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 600, 3600, 21600, 86400},
	})

	// OrdersCreated counts orders produced by the order factory, by method.
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_orders_created_total",
		Help: "Total orders produced by the order factory",
	}, []string{"method"})

	// OrdersSkipped counts contracts skipped while building orders, by reason.
	OrdersSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_orders_skipped_total",
		Help: "Contracts skipped while building or executing orders",
	}, []string{"reason"})

	// RiskRejections counts orders rejected by the position limiter.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_risk_rejections_total",
		Help: "Orders rejected by the position limiter",
	})

	// SlippageWarnings counts orders passed through without slippage.
	SlippageWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_slippage_warnings_total",
		Help: "Orders whose execution style is not supported by the slippage model",
	}, []string{"style"})

	// FillsTotal counts executed fills, by side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_fills_total",
		Help: "Total number of fills",
	}, []string{"side"})

	// FillVolume tracks cumulative filled quantity per contract.
	FillVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_fill_volume_total",
		Help: "Cumulative filled quantity in shares",
	}, []string{"symbol", "side"})

	// OpenOrders tracks the number of orders waiting for execution.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_open_orders",
		Help: "Number of orders waiting for execution",
	})

	// PortfolioValue tracks the last recorded portfolio value.
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_portfolio_value",
		Help: "Portfolio value at the last snapshot",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Side returns the label value for a signed quantity.
func Side(quantity int64) string {
	if quantity < 0 {
		return "sell"
	}
	return "buy"
}

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
