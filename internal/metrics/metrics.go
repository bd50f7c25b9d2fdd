// Package metrics defines Prometheus metrics for ingestion, embedding, and the index.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishna",
			Name:      "ingest_documents_total",
			Help:      "Total number of documents ingested",
		},
		[]string{"status"}, // "success" / "error"
	)

	IngestChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "krishna",
			Name:      "ingest_chunks_total",
			Help:      "Total number of chunks added to the index",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishna",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "krishna",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)

	IndexFlushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "krishna",
			Name:      "index_flush_failures_total",
			Help:      "Total number of failed index snapshot writes",
		},
	)

	IndexLoadFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "krishna",
			Name:      "index_load_failures_total",
			Help:      "Total number of index snapshot loads that fell back to an empty index",
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishna",
			Name:      "search_requests_total",
			Help:      "Total number of semantic search requests",
		},
		[]string{"status"},
	)
)

var registered bool

// Register registers all metrics with the default registry. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		IngestDocumentsTotal,
		IngestChunksTotal,
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		IndexFlushFailuresTotal,
		IndexLoadFailuresTotal,
		SearchRequestsTotal,
	)
	registered = true
}
