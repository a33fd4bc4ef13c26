package domain

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

// Item outcomes.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	registry  *prometheus.Registry
	items     *prometheus.CounterVec
	batches   *prometheus.CounterVec
	batchSize prometheus.Histogram
	backlog   *prometheus.GaugeVec
}

// NewMetrics creates the pipeline metrics on a private registry.
func NewMetrics() *Metrics {
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_items_total",
		Help: "Items handled per pipeline stage and outcome",
	}, []string{"stage", "outcome"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_register_batches_total",
		Help: "Bulk registration requests per outcome",
	}, []string{"outcome"})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_register_batch_size",
		Help:    "Items per bulk registration request",
		Buckets: prometheus.ExponentialBuckets(1, 4, 6),
	})
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_dispatcher_backlog",
		Help: "Items queued by the dispatcher per outbound stage",
	}, []string{"stage"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(items, batches, batchSize, backlog)

	return &Metrics{
		registry:  registry,
		items:     items,
		batches:   batches,
		batchSize: batchSize,
		backlog:   backlog,
	}
}

// Registry exposes the registry for gathering.
func (mt *Metrics) Registry() *prometheus.Registry {
	return mt.registry
}

// WriteTextfile writes the metrics in the text exposition format to path.
func (mt *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, mt.registry); err != nil {
		slog.Error("Failed to write metrics textfile", "path", path, "error", err)
		return fmt.Errorf("write metrics: %w", err)
	}

	return nil
}

func (mt *Metrics) item(stage m.Stage, outcome string) {
	mt.items.WithLabelValues(string(stage), outcome).Inc()
}

func (mt *Metrics) batch(size int, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}

	mt.batches.WithLabelValues(outcome).Inc()
	mt.batchSize.Observe(float64(size))
}

func (mt *Metrics) queued(stage m.Stage, n int) {
	mt.backlog.WithLabelValues(string(stage)).Set(float64(n))
}

// Progress reads the current counters back from the registry.
func (mt *Metrics) Progress() m.Progress {
	var progress m.Progress

	families, err := mt.registry.Gather()
	if err != nil {
		slog.Warn("Failed to gather metrics", "error", err)
		return progress
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			switch family.GetName() {
			case "outbox_items_total":
				countItems(&progress, m.Stage(labels["stage"]), labels["outcome"], int(metric.GetCounter().GetValue()))
			case "outbox_dispatcher_backlog":
				n := int(metric.GetGauge().GetValue())

				switch m.Stage(labels["stage"]) {
				case m.StageChecksum:
					progress.ChecksumQueue = n
				case m.StageTag:
					progress.TagQueue = n
				}
			}
		}
	}

	return progress
}

func countItems(progress *m.Progress, stage m.Stage, outcome string, n int) {
	if outcome == outcomeError {
		progress.Errors += n
		return
	}

	switch {
	case stage == m.StageFind:
		progress.Found += n
	case stage == m.StageDispatcher && outcome == outcomeSkipped:
		progress.Skipped += n
	case stage == m.StageChecksum:
		progress.Checksummed += n
	case stage == m.StageTag:
		progress.Tagged += n
	case stage == m.StageRegister:
		progress.Registered += n
	}
}
