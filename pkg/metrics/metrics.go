package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Current queue depth by classification",
		},
		[]string{"classification"},
	)

	ReferencesScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_references_scheduled_total",
			Help: "Total number of references handed to a worker by kind",
		},
		[]string{"kind"},
	)

	ReferencesDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_references_dead_lettered_total",
			Help: "Total number of references moved to the dead letter state",
		},
		[]string{"reason"},
	)

	LeaseRenewalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_lease_renewals_total",
			Help: "Total number of in-flight lease renewals",
		},
	)

	// Resolver metrics
	ResolverLocatorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_resolver_locators_total",
			Help: "Total number of locators produced by a resolver",
		},
		[]string{"resolver"},
	)

	ResolverDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_resolver_duration_seconds",
			Help:    "Time taken by a single resolver's locate call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resolver"},
	)

	// Fetch metrics
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Time taken for a fetch attempt by transport",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_attempts_total",
			Help: "Total fetch attempts by transport and outcome kind",
		},
		[]string{"transport", "outcome"},
	)

	// Governor metrics
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_breaker_state",
			Help: "Circuit breaker state per host (0=closed, 1=half_open, 2=open)",
		},
		[]string{"host"},
	)

	RateLimitDeferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rate_limit_deferred_total",
			Help: "Total number of attempts deferred by the per-host token bucket",
		},
		[]string{"host"},
	)

	// Quality and storage metrics
	ArtifactsStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_artifacts_stored_total",
			Help: "Total number of artifacts committed to content storage by quality",
		},
		[]string{"quality"},
	)

	DuplicateContentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_duplicate_content_total",
			Help: "Total number of references resolved as duplicates of existing content",
		},
	)

	IndexTransitionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_index_transition_duration_seconds",
			Help:    "Time taken for an index store stage transition",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadLetterTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_dead_letter_total",
			Help: "Current number of references parked in the dead letter state",
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(ReferencesScheduledTotal)
	prometheus.MustRegister(ReferencesDeadLetteredTotal)
	prometheus.MustRegister(LeaseRenewalsTotal)
	prometheus.MustRegister(ResolverLocatorsTotal)
	prometheus.MustRegister(ResolverDuration)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(FetchAttemptsTotal)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(RateLimitDeferredTotal)
	prometheus.MustRegister(ArtifactsStoredTotal)
	prometheus.MustRegister(DuplicateContentTotal)
	prometheus.MustRegister(IndexTransitionDuration)
	prometheus.MustRegister(DeadLetterTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
