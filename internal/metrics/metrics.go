package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memos_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_events_ingested_total",
			Help: "Total number of events written to the memory stores.",
		},
		[]string{"role"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_queries_total",
			Help: "Total number of retrieval queries, by summary outcome.",
		},
		[]string{"summary"}, // "hit", "enqueued", "enqueue_failed"
	)

	CondensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_condensations_total",
			Help: "Total number of condensation jobs executed, by status.",
		},
		[]string{"status"}, // "ok" or "failed"
	)

	CondenseQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memos_condense_queue_depth",
			Help: "Pending condensation jobs in the work queue.",
		},
	)

	TokenSavingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memos_token_savings_total",
			Help: "Cumulative token_original - token_condensed across condensations.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsIngestedTotal,
		QueriesTotal,
		CondensationsTotal,
		CondenseQueueDepth,
		TokenSavingsTotal,
	)
}
