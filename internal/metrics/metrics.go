// Package metrics exposes bridge counters in Prometheus format.
//
// All recording methods are safe on a nil *Metrics, so callers that run
// without metrics can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Rename outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeDeclined = "declined"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Forwarding directions.
const (
	ToServer = "to_server"
	ToEditor = "to_editor"
)

const namespace = "lsp_typescript"

// Metrics holds the bridge collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	fileEvents *prometheus.CounterVec
	renames    *prometheus.CounterVec
	forwarded  *prometheus.CounterVec
	discarded  prometheus.Counter
}

// New creates a fresh registry with the bridge collectors plus the Go and
// process collectors. Each call is independent.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		fileEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_events_total",
			Help:      "File system events observed by the rename watcher.",
		}, []string{"kind"}),
		renames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renames_total",
			Help:      "Detected file renames by outcome.",
		}, []string{"outcome"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "LSP messages relayed between editor and server.",
		}, []string{"direction"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rename_batches_discarded_total",
			Help:      "Event batches that did not look like a rename.",
		}),
	}

	registry.MustRegister(
		m.fileEvents,
		m.renames,
		m.forwarded,
		m.discarded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// FileEvent counts one watcher event of the given kind.
func (m *Metrics) FileEvent(kind string) {
	if m == nil {
		return
	}
	m.fileEvents.WithLabelValues(kind).Inc()
}

// Rename counts one detected rename with its outcome.
func (m *Metrics) Rename(outcome string) {
	if m == nil {
		return
	}
	m.renames.WithLabelValues(outcome).Inc()
}

// RenameCounter returns the counter for one rename outcome.
func (m *Metrics) RenameCounter(outcome string) prometheus.Counter {
	return m.renames.WithLabelValues(outcome)
}

// Discarded counts one classification pass that found no rename.
func (m *Metrics) Discarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

// Forwarded counts one relayed message.
func (m *Metrics) Forwarded(direction string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(direction).Inc()
}
