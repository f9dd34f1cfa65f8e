package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fisioflow_resolution_duration_seconds",
			Help:    "Query resolution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_resolutions_total",
			Help: "Total queries resolved, by answering tier",
		},
		[]string{"source"},
	)

	ResolutionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fisioflow_resolution_confidence",
			Help:    "Confidence scores of delivered answers",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fisioflow_cache_hits_total",
			Help: "Total semantic cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fisioflow_cache_misses_total",
			Help: "Total semantic cache misses",
		},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fisioflow_cache_evictions_total",
			Help: "Total cache entries removed by cleanup",
		},
	)

	ProviderDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fisioflow_provider_dispatches_total",
			Help: "Total backend dispatch attempts",
		},
		[]string{"provider", "status"},
	)

	FallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fisioflow_fallbacks_total",
			Help: "Total queries answered by the deterministic fallback",
		},
	)

	KnowledgeEntriesContributed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fisioflow_knowledge_contributions_total",
			Help: "Total knowledge entries contributed",
		},
	)

	QueryRatings = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fisioflow_query_ratings",
			Help:    "User ratings attached to resolved queries",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)
)

func Init() {
	prometheus.MustRegister(ResolutionDuration)
	prometheus.MustRegister(ResolutionsTotal)
	prometheus.MustRegister(ResolutionConfidence)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheEvictions)
	prometheus.MustRegister(ProviderDispatches)
	prometheus.MustRegister(FallbacksTotal)
	prometheus.MustRegister(KnowledgeEntriesContributed)
	prometheus.MustRegister(QueryRatings)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
