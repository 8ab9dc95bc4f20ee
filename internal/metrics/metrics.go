// Package metrics provides Prometheus metrics for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thinkscotty/newsroom/internal/models"
)

var (
	// QueueDepth tracks candidates per topic and pipeline status.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "newsroom",
			Name:      "queue_depth",
			Help:      "Candidates per topic by pipeline queue",
		},
		[]string{"topic", "queue"},
	)

	// IngestionPaused is 1 while backpressure holds a topic's polling.
	IngestionPaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "newsroom",
			Name:      "ingestion_paused",
			Help:      "Ingestion paused by backpressure (1 = paused)",
		},
		[]string{"topic"},
	)

	// FetchTotal counts source polls by outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "fetch_total",
			Help:      "Total number of source fetch attempts",
		},
		[]string{"topic", "outcome"},
	)

	// VerdictsTotal counts dedup verdicts.
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "verdicts_total",
			Help:      "Total number of duplicate-resolution verdicts",
		},
		[]string{"topic", "verdict"},
	)

	// StageTotal counts stage executions by result.
	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "stage_total",
			Help:      "Total number of pipeline stage executions",
		},
		[]string{"topic", "stage", "status"},
	)

	// ScanBatchSize observes processed items per scan batch.
	ScanBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "newsroom",
			Name:      "scan_batch_size",
			Help:      "Items processed per duplicate-scan batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// EligibleSources tracks the eligible share of a topic's sources.
	EligibleSources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "newsroom",
			Name:      "eligible_sources_percent",
			Help:      "Percentage of a topic's sources eligible for polling",
		},
		[]string{"topic"},
	)

	// PersistenceErrors counts writes lost after retries.
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "newsroom",
			Name:      "persistence_errors_total",
			Help:      "Total number of writes that failed after retries",
		},
		[]string{"operation"},
	)
)

// RecordStats publishes a topic's pipeline projection.
func RecordStats(topic string, s models.PipelineStats) {
	QueueDepth.WithLabelValues(topic, "pending").Set(float64(s.PendingArticles))
	QueueDepth.WithLabelValues(topic, "processing").Set(float64(s.ProcessingQueue))
	QueueDepth.WithLabelValues(topic, "held").Set(float64(s.HeldForReview))
	QueueDepth.WithLabelValues(topic, "ready").Set(float64(s.ReadyStories))
	QueueDepth.WithLabelValues(topic, "duplicate").Set(float64(s.Duplicates))
	paused := 0.0
	if s.IngestionPaused {
		paused = 1
	}
	IngestionPaused.WithLabelValues(topic).Set(paused)
}

// RecordFetch counts one source poll.
func RecordFetch(topic string, outcome models.Outcome) {
	FetchTotal.WithLabelValues(topic, outcome.String()).Inc()
}

// RecordVerdict counts one dedup verdict.
func RecordVerdict(topic, verdict string) {
	VerdictsTotal.WithLabelValues(topic, verdict).Inc()
}

// RecordStage counts one stage execution.
func RecordStage(topic, stage, status string) {
	StageTotal.WithLabelValues(topic, stage, status).Inc()
}

// RecordScanBatch observes one committed scan batch.
func RecordScanBatch(b models.BatchReport) {
	ScanBatchSize.Observe(float64(b.Processed))
}

// RecordHealth publishes the eligible-source percentage.
func RecordHealth(topic string, h models.TopicHealth) {
	EligibleSources.WithLabelValues(topic).Set(h.Percent)
}

// RecordPersistenceError counts a write lost after retries.
func RecordPersistenceError(operation string) {
	PersistenceErrors.WithLabelValues(operation).Inc()
}
