// Package metrics exposes the codifier's prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Decisions counts pipeline verdicts by outcome.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvegs_decisions_total",
		Help: "Match decisions by outcome.",
	}, []string{"decision"})

	// MatchDuration observes end-to-end match latency.
	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cvegs_match_duration_seconds",
		Help:    "End-to-end match processing time.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 10},
	})

	// ExtractionFallbacks counts LLM re-extractions by result.
	ExtractionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvegs_extraction_fallbacks_total",
		Help: "LLM extraction fallback invocations by result.",
	}, []string{"result"})

	// FilterFallbacks counts non-zero filter relaxation levels.
	FilterFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvegs_filter_fallbacks_total",
		Help: "Filter predicate relaxations by level reached.",
	}, []string{"level"})

	// CatalogRefreshes counts snapshot rebuilds by status.
	CatalogRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cvegs_catalog_refreshes_total",
		Help: "Catalog snapshot refresh attempts by status.",
	}, []string{"status"})

	// SnapshotRecords reports the size of the published snapshot.
	SnapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cvegs_snapshot_records",
		Help: "Records in the published catalog snapshot.",
	})
)

// Handler serves the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
