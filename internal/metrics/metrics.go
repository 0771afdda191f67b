package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed analyses.
	OutcomeSuccess = "success"
	// OutcomeError labels failed analyses (bad input or pipeline issues).
	OutcomeError = "error"

	// CacheHit labels result-cache lookups served from the cache.
	CacheHit = "hit"
	// CacheMiss labels result-cache lookups that fell through to the engine.
	CacheMiss = "miss"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "analyses_total",
			Help:      "Total number of analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "arbor",
			Name:      "analysis_seconds",
			Help:      "Analysis latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	featuresEvaluatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "features_evaluated_total",
			Help:      "Total number of features pushed through candidate evaluation.",
		},
	)

	cacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "cache_events_total",
			Help:      "Result cache lookups, partitioned by hit or miss.",
		},
		[]string{"event"},
	)
)

// Register attaches the service collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		featuresEvaluatedTotal,
		cacheEventsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration, its outcome label, and the
// number of features evaluated.
func ObserveAnalysis(duration time.Duration, outcome string, features int) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
	if features > 0 {
		featuresEvaluatedTotal.Add(float64(features))
	}
}

// CacheEvent counts one result-cache lookup.
func CacheEvent(event string) {
	if event != CacheHit {
		event = CacheMiss
	}
	cacheEventsTotal.WithLabelValues(event).Inc()
}
