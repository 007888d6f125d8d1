// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A migration run is a batch job, not a long-lived service, so collected
// metrics are pushed to a Pushgateway at the end of the run instead of
// being exposed on an HTTP scrape endpoint. All Prometheus-specific
// dependencies live here so the rest of the project depends only on the
// metrics.Backend abstraction.
package prompush

import (
	"fmt"

	"shardload/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // "shardload_stage_total"
	stageDuration *prometheus.SummaryVec // "shardload_stage_duration_seconds"

	rowCounter   *prometheus.CounterVec // "shardload_rows_total"
	batchCounter *prometheus.CounterVec // "shardload_batches_total"
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName is the Pushgateway "job" name (usually the migration job name);
// gatewayURL is the base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "shardload"
	}

	reg := prometheus.NewRegistry()

	// The job label doubles as the Pushgateway grouping key, so the
	// collectors only carry the remaining labels.
	stageCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardload_stage_total",
			Help: "Total pipeline stage executions, partitioned by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "shardload_stage_duration_seconds",
			Help:       "Duration of pipeline stages in seconds, partitioned by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"stage", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardload_rows_total",
			Help: "Row-level counts per kind (read, parse_errors, written).",
		},
		[]string{"kind"},
	)
	batchCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardload_batches_total",
			Help: "Total write batches flushed, partitioned by shard.",
		},
		[]string{"shard"},
	)

	if err := reg.Register(stageCounter); err != nil {
		return nil, fmt.Errorf("prompush: register stage counter: %w", err)
	}
	if err := reg.Register(stageDuration); err != nil {
		return nil, fmt.Errorf("prompush: register stage summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(batchCounter); err != nil {
		return nil, fmt.Errorf("prompush: register batch counter: %w", err)
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
		rowCounter:    rowCounter,
		batchCounter:  batchCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "shardload_stage_total":
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)

	case "shardload_rows_total":
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)

	case "shardload_batches_total":
		b.batchCounter.WithLabelValues(labels["shard"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "shardload_stage_duration_seconds" {
		return
	}
	b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
