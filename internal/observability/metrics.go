package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bridge_http_requests_total",
			Help: "Total number of HTTP requests processed by the view bridge.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_bridge_http_request_duration_seconds",
			Help:    "View bridge HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_client_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_frames_total",
			Help: "Chat transport frames by direction and outcome.",
		},
		[]string{"direction", "outcome"},
	)
	mergeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_merged_messages_total",
			Help: "Messages merged into conversations by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	staleResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_stale_responses_total",
			Help: "Fetch responses discarded because a newer one was already applied.",
		},
		[]string{"kind"},
	)
	fetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_fetch_errors_total",
			Help: "Failed history and conversation-list fetches.",
		},
		[]string{"kind"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		framesTotal,
		mergeTotal,
		staleResponsesTotal,
		fetchErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

// IncFrame counts a transport frame, e.g. ("inbound", "malformed") or ("outbound", "dropped").
func IncFrame(direction, outcome string) {
	framesTotal.WithLabelValues(direction, outcome).Inc()
}

func IncMerge(source, outcome string) {
	mergeTotal.WithLabelValues(source, outcome).Inc()
}

func IncStaleResponse(kind string) {
	staleResponsesTotal.WithLabelValues(kind).Inc()
}

func IncFetchError(kind string) {
	fetchErrorsTotal.WithLabelValues(kind).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
