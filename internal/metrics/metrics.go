// Package metrics exposes Prometheus collectors for resolution, tier
// outcomes and external calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// resolutionsTotal counts resolve calls by cascade method.
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobforge",
		Subsystem: "resolve",
		Name:      "resolutions_total",
		Help:      "Resolutions by cascade method",
	}, []string{"method"})

	contextBuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "jobforge",
		Subsystem: "resolve",
		Name:      "context_builds_total",
		Help:      "Resolution contexts built (cache misses)",
	})

	// winningTierTotal counts merged attribute values by the tier that won.
	winningTierTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobforge",
		Subsystem: "merge",
		Name:      "winning_tier_total",
		Help:      "Merged attribute values by winning source tier",
	}, []string{"tier"})

	// externalFailuresTotal counts external calls that failed after retries.
	// Labels: service (onet, anthropic)
	externalFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobforge",
		Subsystem: "external",
		Name:      "failures_total",
		Help:      "External calls failed after exhausting retries",
	}, []string{"service"})

	externalLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobforge",
		Subsystem: "external",
		Name:      "latency_seconds",
		Help:      "External call latency including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"service"})

	// entitiesTotal counts batch entities by final status.
	entitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobforge",
		Subsystem: "batch",
		Name:      "entities_total",
		Help:      "Batch entities by final status",
	}, []string{"status"})
)

// RecordResolution records one resolve outcome.
func RecordResolution(method string) {
	resolutionsTotal.WithLabelValues(method).Inc()
}

// RecordContextBuild records a resolution context cache miss.
func RecordContextBuild() {
	contextBuildsTotal.Inc()
}

// RecordWinningTier records the tier that supplied a merged value.
func RecordWinningTier(tier string) {
	winningTierTotal.WithLabelValues(tier).Inc()
}

// RecordExternalCall records latency for an external call and counts it
// as a failure when err is non-nil.
func RecordExternalCall(service string, started time.Time, err error) {
	externalLatencySeconds.WithLabelValues(service).Observe(time.Since(started).Seconds())
	if err != nil {
		externalFailuresTotal.WithLabelValues(service).Inc()
	}
}

// RecordEntity records a finished batch entity.
func RecordEntity(status string) {
	entitiesTotal.WithLabelValues(status).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
