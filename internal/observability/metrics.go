package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostMutations counts post store mutations by operation and outcome.
	PostMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogger_post_mutations_total",
		Help: "Total number of post mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	// StorageErrors counts storage failures by operation.
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogger_storage_errors_total",
		Help: "Total number of storage failures by operation",
	}, []string{"operation"})

	// ReadRetries counts retried read attempts by operation.
	ReadRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogger_read_retries_total",
		Help: "Total number of retried storage reads by operation",
	}, []string{"operation"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogger_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// EventPublishFailures counts post events that could not be published.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogger_event_publish_failures_total",
		Help: "Total number of post events that failed to publish",
	}, []string{"backend"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blogger_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// RateLimitRejections counts requests refused by the rate limiter by resource.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogger_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"resource"})

	// TagIndexTags is the number of distinct tags in the in-memory tag index.
	TagIndexTags = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blogger_tag_index_tags",
		Help: "Number of distinct tags held by the tag index",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordMutation records the outcome of a post mutation.
func RecordMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	PostMutations.WithLabelValues(operation, outcome).Inc()
}
