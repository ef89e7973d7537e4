package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_llm_calls_total",
			Help: "Total remote LLM calls by outcome",
		},
		[]string{"provider", "model", "status"},
	)

	LLMCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cvforge_llm_call_duration_seconds",
			Help:    "Remote LLM call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cvforge_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)

	BreakerShortCircuits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_breaker_short_circuits_total",
			Help: "Calls rejected by an open circuit breaker",
		},
		[]string{"breaker"},
	)

	EmbeddingCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_embedding_cache_hits_total",
			Help: "Embedding cache hits",
		},
		[]string{"cache_type"},
	)

	EmbeddingCacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
		[]string{"cache_type"},
	)

	BudgetRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_budget_rejections_total",
			Help: "Calls rejected by the budget guard before any remote attempt",
		},
		[]string{"scope"},
	)

	RankingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvforge_ranking_requests_total",
			Help: "Artifact ranking requests by score source",
		},
		[]string{"source"},
	)

	CallRecordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cvforge_call_records_dropped_total",
			Help: "CallRecords dropped because the tracker queue was full",
		},
	)
)

func Init() {
	prometheus.MustRegister(LLMCallsTotal)
	prometheus.MustRegister(LLMCallDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(LLMCost)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(BreakerShortCircuits)
	prometheus.MustRegister(EmbeddingCacheHits)
	prometheus.MustRegister(EmbeddingCacheMisses)
	prometheus.MustRegister(BudgetRejections)
	prometheus.MustRegister(RankingRequests)
	prometheus.MustRegister(CallRecordsDropped)
}
