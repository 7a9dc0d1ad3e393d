package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway Metrics
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_gateway_requests_total",
			Help: "Total number of REST backend requests",
		},
		[]string{"operation", "status"},
	)

	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessonplay_gateway_request_duration_seconds",
			Help:    "REST backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_cache_hits_total",
			Help: "Total number of entity cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_cache_misses_total",
			Help: "Total number of entity cache misses",
		},
		[]string{"cache_type"},
	)

	FetchDedupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_fetch_dedup_total",
			Help: "Calls that joined an in-flight fetch instead of issuing their own",
		},
		[]string{"cache_type"},
	)

	// Session Metrics
	ProgressSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_progress_syncs_total",
			Help: "Total number of progress syncs",
		},
		[]string{"status"},
	)

	GateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_gate_transitions_total",
			Help: "Milestone gate state transitions",
		},
		[]string{"from", "to"},
	)

	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_answers_total",
			Help: "Graded answers by verdict",
		},
		[]string{"verdict"},
	)

	// Hub Metrics
	SubscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lessonplay_subscribers_active",
			Help: "Number of registered state subscribers",
		},
		[]string{"scope"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonplay_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordGatewayRequest records a REST backend round trip
func RecordGatewayRequest(operation, status string, duration float64) {
	GatewayRequestsTotal.WithLabelValues(operation, status).Inc()
	GatewayRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordFetchDedup records a call that shared an in-flight fetch
func RecordFetchDedup(cacheType string) {
	FetchDedupTotal.WithLabelValues(cacheType).Inc()
}

// RecordProgressSync records the outcome of a progress sync
func RecordProgressSync(success bool) {
	if success {
		ProgressSyncsTotal.WithLabelValues("success").Inc()
	} else {
		ProgressSyncsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordGateTransition records a gate state change
func RecordGateTransition(from, to string) {
	GateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordAnswer records a graded answer
func RecordAnswer(isCorrect bool) {
	if isCorrect {
		AnswersTotal.WithLabelValues("correct").Inc()
	} else {
		AnswersTotal.WithLabelValues("incorrect").Inc()
	}
}

// AddSubscribers adjusts the subscriber gauge for a scope
func AddSubscribers(scope string, delta int) {
	SubscribersActive.WithLabelValues(scope).Add(float64(delta))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
