// Package metrics provides Prometheus instrumentation for the Sentinel gateway.
package metrics

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SubmissionsTotal counts action submissions by policy decision.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "submissions_total",
			Help:      "Total action submissions by policy decision.",
		},
		[]string{"decision"},
	)

	// ResolutionsTotal counts terminal case resolutions by outcome and resolver.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "resolutions_total",
			Help:      "Total case resolutions by outcome and resolver.",
		},
		[]string{"outcome", "resolver"},
	)

	// WebhookEventsTotal counts inbound voice webhook events by type and result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "voice_webhook_events_total",
			Help:      "Total inbound voice webhook events by type and handling result.",
		},
		[]string{"event_type", "result"},
	)

	// VoiceCommandsTotal counts outbound voice channel commands by kind and result.
	VoiceCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "voice_commands_total",
			Help:      "Total outbound voice channel commands by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// ScorerFailuresTotal counts risk scorer calls that fell back to the
	// conservative default.
	ScorerFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "scorer_failures_total",
			Help:      "Total risk scorer failures recovered with a conservative default.",
		},
	)

	// CaseDuration observes time from submission to terminal resolution.
	CaseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "case_duration_seconds",
		Help:      "Time from case submission to terminal resolution in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 180, 300},
	})

	// ActiveWebSocketClients tracks connected dashboard WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SubmissionsTotal,
		ResolutionsTotal,
		WebhookEventsTotal,
		VoiceCommandsTotal,
		ScorerFailuresTotal,
		CaseDuration,
		ActiveWebSocketClients,
		GoroutineCount,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
		GoroutineCount.Set(float64(runtime.NumGoroutine()))
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveCaseDuration records a resolved case's lifetime.
func ObserveCaseDuration(createdAt, resolvedAt time.Time) {
	if resolvedAt.After(createdAt) {
		CaseDuration.Observe(resolvedAt.Sub(createdAt).Seconds())
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
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
