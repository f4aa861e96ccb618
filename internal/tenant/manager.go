// Package tenant implements the tenant manager (component H): a
// lazily-populated client_id → Orchestrator mapping, with every piece
// of learned state rooted under a tenant-specific directory so
// tenants never observe each other's state. Grounded on the original
// system's per-client_id directory convention (config.get_tenant_dir)
// and the Tenant Manager's role described in the wider design.
package tenant

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"dev.aegisv.gateway/internal/audit"
	"dev.aegisv.gateway/internal/config"
	"dev.aegisv.gateway/internal/conversation"
	"dev.aegisv.gateway/internal/hardening"
	"dev.aegisv.gateway/internal/hitl"
	"dev.aegisv.gateway/internal/intent"
	"dev.aegisv.gateway/internal/llmengine"
	"dev.aegisv.gateway/internal/membrane"
	"dev.aegisv.gateway/internal/metrics"
	"dev.aegisv.gateway/internal/orchestrator"
	"dev.aegisv.gateway/pkg/api"
)

// tenantPipeline bundles a tenant's orchestrator with the components
// the Manager needs to report metrics without the orchestrator itself
// having to know about Prometheus.
type tenantPipeline struct {
	orch      *orchestrator.Orchestrator
	membrane  *membrane.Membrane
	ledger    *audit.Ledger
	queue     *hitl.Queue
	hardening *hardening.Core
}

// Manager lazily instantiates and caches one Orchestrator per client_id.
type Manager struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	pipelines map[string]*tenantPipeline
}

// New returns an empty Manager; pipelines are created on first Get.
func New(cfg *config.Config, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(),
		pipelines: make(map[string]*tenantPipeline),
	}
}

// Metrics returns the Manager's Prometheus registry owner, for
// wiring into an HTTP /metrics endpoint.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Get returns the Orchestrator for clientID, constructing its full
// dependency chain (engine, membrane, graph, HITL queue, tracker,
// hardening core, ledger) the first time it is requested.
func (m *Manager) Get(clientID string) (*orchestrator.Orchestrator, error) {
	pipeline, err := m.pipelineFor(clientID)
	if err != nil {
		return nil, err
	}
	return pipeline.orch, nil
}

// Process runs one prompt through clientID's pipeline and reports the
// outcome to Prometheus.
func (m *Manager) Process(ctx context.Context, clientID, prompt string) (api.Decision, error) {
	pipeline, err := m.pipelineFor(clientID)
	if err != nil {
		return api.Decision{}, err
	}

	decision := pipeline.orch.Process(ctx, prompt)

	m.metrics.RecordDecision(clientID, string(decision.Stage), decision.LatencyMs)
	m.metrics.SetAntibodyCount(clientID, pipeline.membrane.Len())
	m.metrics.SetLedgerBlocks(clientID, pipeline.ledger.Len())
	if entries, err := pipeline.queue.List(); err == nil {
		m.metrics.SetHITLQueueDepth(clientID, len(entries))
	}

	return decision, nil
}

// ProcessFeedback routes a reviewer-supplied ground-truth correction to
// clientID's Layer 3 core. Only correct=false triggers work: a false
// negative (expected MALICIOUS, actually ALLOWED) trains a supervised
// malicious label; a false positive (expected BENIGN, actually BLOCKED)
// trains a supervised benign label, which prunes the matching antibody.
// Any other combination (correct=true, or an expected/actual pairing
// that isn't one of those two false-verdict shapes) is a no-op.
func (m *Manager) ProcessFeedback(ctx context.Context, clientID string, req api.FeedbackRequest) error {
	if req.Correct {
		return nil
	}

	pipeline, err := m.pipelineFor(clientID)
	if err != nil {
		return err
	}

	switch {
	case req.ExpectedLabel == api.ExpectedMalicious && req.ActualDecision == api.ActualAllowed:
		return pipeline.hardening.ProcessSupervisedFeedback(ctx, req.Prompt, hardening.LabelMalicious)
	case req.ExpectedLabel == api.ExpectedBenign && req.ActualDecision == api.ActualBlocked:
		return pipeline.hardening.ProcessSupervisedFeedback(ctx, req.Prompt, hardening.LabelBenign)
	default:
		return nil
	}
}

func (m *Manager) pipelineFor(clientID string) (*tenantPipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pipeline, ok := m.pipelines[clientID]; ok {
		return pipeline, nil
	}

	pipeline, err := m.build(clientID)
	if err != nil {
		return nil, err
	}
	m.pipelines[clientID] = pipeline
	return pipeline, nil
}

func (m *Manager) build(clientID string) (*tenantPipeline, error) {
	stateDir := m.tenantDir(clientID)

	engine, err := llmengine.New(m.cfg, m.logger)
	if err != nil {
		// Fatal for this tenant only — spec.md §7 names engine
		// instantiation at boot as the one fail-closed condition.
		return nil, fmt.Errorf("tenant %s: instantiate engine: %w", clientID, err)
	}

	mem := membrane.New(clientID, stateDir, m.cfg.Membrane.SimilarityThreshold, engine, m.logger)
	mem.WatchForChanges()

	graph := conversation.New()
	queue := hitl.New(stateDir, m.logger)

	tracker := intent.New(intent.Config{
		RiskThresholdBlock:     m.cfg.Intent.RiskThresholdBlock,
		RiskThresholdAmbiguous: m.cfg.Intent.RiskThresholdAmbiguous,
		ContextLimit:           5,
		HITLEnabled:            m.cfg.Intent.HITLEnabled,
	}, engine, graph, queue)

	core := hardening.New(engine, mem, m.logger)

	ledger, err := audit.New(stateDir, m.cfg.Ledger.FileName)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: open ledger: %w", clientID, err)
	}

	orch := orchestrator.New(clientID, orchestrator.Config{
		MaxHistoryTurns:      m.cfg.Intent.MaxHistoryTurns,
		ParallelLayers:       m.cfg.Intent.ParallelLayers,
		RiskThresholdBlock:   m.cfg.Intent.RiskThresholdBlock,
		SafeAnchorConfidence: m.cfg.Membrane.SafeAnchorConfidence,
	}, orchestrator.Deps{
		Membrane:  mem,
		Tracker:   tracker,
		Hardening: core,
		Ledger:    ledger,
		Engine:    engine,
		Graph:     graph,
		Logger:    m.logger,
	})

	return &tenantPipeline{orch: orch, membrane: mem, ledger: ledger, queue: queue, hardening: core}, nil
}

func (m *Manager) tenantDir(clientID string) string {
	return filepath.Join(m.cfg.Tenant.BaseDir, clientID)
}

// Close stops every tenant's background watchers. Call on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pipeline := range m.pipelines {
		pipeline.membrane.Close()
	}
}
