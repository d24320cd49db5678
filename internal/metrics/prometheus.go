package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kbchat_query_duration_seconds",
			Help:    "Question answering duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_query_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbchat_retrieved_chunks",
			Help:    "Number of chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10, 20},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_llm_tokens_used",
			Help: "Total model tokens used",
		},
		[]string{"model", "type"},
	)

	IngestionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_ingestion_runs_total",
			Help: "Total ingestion runs by outcome",
		},
		[]string{"status"},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbchat_ingestion_duration_seconds",
			Help:    "Ingestion run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	FilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_files_processed_total",
			Help: "Uploaded files by outcome",
		},
		[]string{"outcome"},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kbchat_chunks_indexed_total",
			Help: "Total chunks embedded and indexed",
		},
	)

	IndexLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_index_loads_total",
			Help: "Index activations by result",
		},
		[]string{"result"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kbchat_active_sessions",
			Help: "Chat sessions currently held in memory",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbchat_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(RetrievedChunks)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(IngestionRuns)
		prometheus.MustRegister(IngestionDuration)
		prometheus.MustRegister(FilesProcessed)
		prometheus.MustRegister(ChunksIndexed)
		prometheus.MustRegister(IndexLoads)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
