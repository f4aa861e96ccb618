// Package metrics exposes Prometheus instrumentation for the gateway's
// decision pipeline: stage counts, pipeline latency, and antibody
// knowledge-base size. Grounded on the teacher's WorkerPoolMetrics
// (internal/background/metrics.go), using promauto against a registry
// the caller owns rather than the package-global DefaultRegisterer, so
// a process hosting several Metrics instances (one per test case) never
// collides on duplicate registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the gateway emits.
type Metrics struct {
	Registry *prometheus.Registry

	DecisionsTotal   *prometheus.CounterVec
	PipelineLatency  *prometheus.HistogramVec
	AntibodyCount    *prometheus.GaugeVec
	HardeningUpdates *prometheus.CounterVec
	HITLQueueDepth   *prometheus.GaugeVec
	LedgerBlocks     *prometheus.GaugeVec
}

// New builds a Metrics bound to a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "gateway",
			Name:      "decisions_total",
			Help:      "Total number of prompts processed, by tenant and terminal stage",
		}, []string{"client_id", "stage"}),

		PipelineLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aegis",
			Subsystem: "gateway",
			Name:      "pipeline_latency_ms",
			Help:      "End-to-end pipeline latency in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"client_id", "stage"}),

		AntibodyCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aegis",
			Subsystem: "membrane",
			Name:      "antibody_count",
			Help:      "Number of antibodies currently held in a tenant's Layer 1 index",
		}, []string{"client_id"}),

		HardeningUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aegis",
			Subsystem: "hardening",
			Name:      "kb_updates_total",
			Help:      "Total number of antibodies synthesized by the self-hardening loop",
		}, []string{"client_id", "source"}), // source: auto_red_team, supervised

		HITLQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aegis",
			Subsystem: "hitl",
			Name:      "queue_depth",
			Help:      "Number of entries currently queued for human review",
		}, []string{"client_id"}),

		LedgerBlocks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aegis",
			Subsystem: "audit",
			Name:      "ledger_blocks",
			Help:      "Number of blocks currently in a tenant's audit ledger",
		}, []string{"client_id"}),
	}
}

// RecordDecision records one pipeline run's terminal stage and latency.
func (m *Metrics) RecordDecision(clientID, stage string, latencyMs float64) {
	m.DecisionsTotal.WithLabelValues(clientID, stage).Inc()
	m.PipelineLatency.WithLabelValues(clientID, stage).Observe(latencyMs)
}

// SetAntibodyCount reports the current size of a tenant's antibody index.
func (m *Metrics) SetAntibodyCount(clientID string, count int) {
	m.AntibodyCount.WithLabelValues(clientID).Set(float64(count))
}

// RecordHardeningUpdate increments the knowledge-base update counter
// for one tenant and source (auto_red_team or supervised).
func (m *Metrics) RecordHardeningUpdate(clientID, source string) {
	m.HardeningUpdates.WithLabelValues(clientID, source).Inc()
}

// SetHITLQueueDepth reports the current human-review queue length.
func (m *Metrics) SetHITLQueueDepth(clientID string, depth int) {
	m.HITLQueueDepth.WithLabelValues(clientID).Set(float64(depth))
}

// SetLedgerBlocks reports the current audit ledger length.
func (m *Metrics) SetLedgerBlocks(clientID string, count int) {
	m.LedgerBlocks.WithLabelValues(clientID).Set(float64(count))
}
