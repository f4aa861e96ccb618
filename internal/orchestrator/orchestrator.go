// Package orchestrator implements the per-tenant request pipeline
// (component G): it races Layer 1 and Layer 2, applies early-exit and
// verification-gating semantics on a block, drives the core chat
// completion, and appends every decision to the tenant's audit ledger.
// Grounded on the original system's AegisSystem.process_prompt
// (core/system.py).
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.aegisv.gateway/internal/audit"
	"dev.aegisv.gateway/internal/conversation"
	"dev.aegisv.gateway/internal/hardening"
	"dev.aegisv.gateway/internal/intent"
	"dev.aegisv.gateway/internal/llmengine"
	"dev.aegisv.gateway/internal/membrane"
	"dev.aegisv.gateway/pkg/api"
)

const coreSystemPrompt = `You are Aegis, a helpful, secure, and intelligent AI assistant. ` +
	`Format your responses using clean Markdown. ` +
	`Be concise, professional, and friendly. ` +
	`Do NOT output raw function headers or debug text unless asked.`

const safeAnchorConfidenceReasonMarker = "Safe Anchor"

// Config holds the per-tenant thresholds the orchestrator applies.
type Config struct {
	MaxHistoryTurns      int
	ParallelLayers       bool
	RiskThresholdBlock   int
	SafeAnchorConfidence float64
}

// Orchestrator drives a single tenant's request pipeline.
type Orchestrator struct {
	clientID string
	cfg      Config

	membrane  *membrane.Membrane
	tracker   *intent.Tracker
	hardening *hardening.Core
	ledger    *audit.Ledger
	engine    llmengine.Engine
	graph     *conversation.Graph
	logger    *logrus.Logger

	mu          sync.Mutex
	chatHistory []llmengine.ChatMessage
}

// Deps bundles the components New wires together — kept as a struct so
// adding a new cross-cutting dependency does not churn every call site.
type Deps struct {
	Membrane  *membrane.Membrane
	Tracker   *intent.Tracker
	Hardening *hardening.Core
	Ledger    *audit.Ledger
	Engine    llmengine.Engine
	Graph     *conversation.Graph
	Logger    *logrus.Logger
}

// New builds an Orchestrator for one tenant.
func New(clientID string, cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		clientID:  clientID,
		cfg:       cfg,
		membrane:  deps.Membrane,
		tracker:   deps.Tracker,
		hardening: deps.Hardening,
		ledger:    deps.Ledger,
		engine:    deps.Engine,
		graph:     deps.Graph,
		logger:    logger,
	}
}

type l2Outcome struct {
	result    intent.Result
	cancelled bool
}

// Process runs the full pipeline for one prompt and returns the
// external decision record.
func (o *Orchestrator) Process(ctx context.Context, prompt string) api.Decision {
	start := time.Now()

	o.trimHistory()

	var (
		l2Ctx    context.Context
		l2Cancel context.CancelFunc
		l2Ch     chan l2Outcome
	)
	if o.cfg.ParallelLayers {
		l2Ctx, l2Cancel = context.WithCancel(ctx)
		l2Ch = make(chan l2Outcome, 1)
		go func() {
			result := o.tracker.Analyze(l2Ctx, prompt)
			select {
			case <-l2Ctx.Done():
				l2Ch <- l2Outcome{cancelled: true}
			default:
				l2Ch <- l2Outcome{result: result}
			}
		}()
	}

	l1Safe, l1Reason, l1Dist := o.membrane.Check(ctx, prompt)

	if !l1Safe {
		if l2Cancel != nil {
			l2Cancel()
		}
		return o.handleL1Block(ctx, prompt, l1Reason, l1Dist, start)
	}

	l2Skipped := false
	var l2Result intent.Result

	if l1Dist > o.cfg.SafeAnchorConfidence && strings.Contains(l1Reason, safeAnchorConfidenceReasonMarker) {
		if l2Cancel != nil {
			l2Cancel()
		}
		l2Result = intent.Result{Allowed: true, Risk: 0, Reason: "Skipped (Trusted Pattern)"}
		l2Skipped = true
	} else if l2Ch != nil {
		outcome := <-l2Ch
		if outcome.cancelled {
			l2Result = intent.Result{Allowed: true, Risk: 0, Reason: "Cancelled"}
			l2Skipped = true
		} else {
			l2Result = outcome.result
		}
	} else {
		l2Result = o.tracker.Analyze(ctx, prompt)
	}

	if !l2Result.Allowed {
		go o.hardening.ProcessEvent(context.Background(), prompt, l2Result.Reason)
		return o.buildDecision(prompt, api.StageBlockedL2, l1Safe, l1Dist, &l2Result, l2Skipped, l2Result.Reason, "", start)
	}

	if !l2Skipped && l2Result.Risk == 0 {
		o.scheduleMemoryOptimization(prompt, !l1Safe)
	}

	responseText, stage := o.generateResponse(ctx, prompt)

	return o.buildDecision(prompt, stage, l1Safe, l1Dist, &l2Result, l2Skipped, "", responseText, start)
}

func (o *Orchestrator) handleL1Block(ctx context.Context, prompt, l1Reason string, l1Dist float64, start time.Time) api.Decision {
	go o.verifyAndMaybeHarden(prompt, l1Reason)

	decision := o.buildDecision(prompt, api.StageBlockedL1, false, l1Dist, nil, false, l1Reason,
		fmt.Sprintf("[SYSTEM] Request Rejected. Security Violation.\n\n**Reason:** %s", l1Reason), start)
	return decision
}

// verifyAndMaybeHarden re-runs L2 independently of the (possibly
// cancelled) request-path L2 task; only if L2 agrees the prompt is
// high risk does it trigger antibody synthesis, suppressing it when L2
// disagrees (a suspected L1 false positive).
func (o *Orchestrator) verifyAndMaybeHarden(prompt, l1Reason string) {
	ctx := context.Background()
	result := o.tracker.Analyze(ctx, prompt)
	if result.Risk > o.cfg.RiskThresholdBlock {
		o.hardening.ProcessEvent(ctx, prompt, l1Reason)
	}
}

// scheduleMemoryOptimization runs the off-request-path follow-up after
// a risk-free decision. If L1 had previously flagged the prompt unsafe
// (a false positive later overturned by L2), the conflicting antibody
// is pruned; otherwise the prompt is whitelisted as a verified-safe
// anchor so future identical prompts skip L2 entirely.
func (o *Orchestrator) scheduleMemoryOptimization(prompt string, l1WasUnsafe bool) {
	go func() {
		ctx := context.Background()
		if l1WasUnsafe {
			if _, err := o.membrane.PruneAntibodies(ctx, []string{prompt}); err != nil {
				o.logger.WithError(err).Warn("orchestrator: memory-optimization prune failed")
			}
			return
		}
		if err := o.membrane.LearnNewThreat(ctx, prompt, "SAFE: Verified Pattern"); err != nil {
			o.logger.WithError(err).Warn("orchestrator: memory-optimization whitelist failed")
		}
	}()
}

func (o *Orchestrator) generateResponse(ctx context.Context, prompt string) (string, api.Stage) {
	o.mu.Lock()
	history := make([]llmengine.ChatMessage, len(o.chatHistory))
	copy(history, o.chatHistory)
	o.mu.Unlock()

	text, err := o.engine.ChatText(ctx, coreSystemPrompt, prompt, history)
	if err != nil {
		return fmt.Sprintf("[SYSTEM ERROR] Failed to generate response: %s", err), api.StageError
	}

	o.mu.Lock()
	o.chatHistory = append(o.chatHistory,
		llmengine.ChatMessage{Role: "user", Content: prompt},
		llmengine.ChatMessage{Role: "assistant", Content: text},
	)
	o.mu.Unlock()

	return text, api.StageSuccess
}

func (o *Orchestrator) trimHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()

	maxEntries := 2 * o.cfg.MaxHistoryTurns
	if maxEntries > 0 && len(o.chatHistory) > maxEntries {
		o.chatHistory = o.chatHistory[len(o.chatHistory)-maxEntries:]
	}
}

// ResetState clears session-scoped state: the conversation graph and
// chat history. Antibodies and the ledger are intentionally untouched.
func (o *Orchestrator) ResetState() {
	o.graph.Reset()
	o.mu.Lock()
	o.chatHistory = nil
	o.mu.Unlock()
}

func (o *Orchestrator) buildDecision(prompt string, stage api.Stage, l1Safe bool, l1Dist float64, l2 *intent.Result, l2Skipped bool, blockReason, response string, start time.Time) api.Decision {
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	var l2Safe *bool
	riskScore := 100
	if l2 != nil {
		allowed := l2.Allowed
		l2Safe = &allowed
		riskScore = l2.Risk
	}

	var blockReasonPtr *string
	if blockReason != "" {
		blockReasonPtr = &blockReason
	}

	var attackCategory *string
	if blockReason != "" {
		category := intent.CategorizeBlock(blockReason)
		attackCategory = &category
	}

	allowed := stage == api.StageSuccess || stage == api.StageWarn

	o.appendLedgerBlock(prompt, stage, allowed, l1Dist, riskScore, blockReason, latencyMs, attackCategory)

	return api.Decision{
		Allowed:        allowed,
		Response:       response,
		RiskScore:      riskScore,
		BlockReason:    blockReasonPtr,
		Layer1Safe:     l1Safe,
		Layer2Safe:     l2Safe,
		LatencyMs:      latencyMs,
		Stage:          stage,
		L1Dist:         l1Dist,
		L2Skipped:      l2Skipped,
		AttackCategory: attackCategory,
	}
}

func (o *Orchestrator) appendLedgerBlock(prompt string, stage api.Stage, allowed bool, l1Dist float64, l2Score int, blockReason string, latencyMs float64, attackCategory *string) {
	decision := "BLOCKED"
	if allowed {
		decision = "ALLOWED"
	}

	data := map[string]interface{}{
		"event_type":     "PROMPT_PROCESSED",
		"prompt_preview": truncatePreview(prompt, 50),
		"stage":          string(stage),
		"decision":       decision,
		"risk_scores": map[string]interface{}{
			"l1_dist": l1Dist,
			"l2_score": l2Score,
		},
		"block_reason": blockReason,
		"latency_ms":   latencyMs,
	}
	if attackCategory != nil {
		data["attack_category"] = *attackCategory
	}

	if _, err := o.ledger.AddBlock(data); err != nil {
		o.logger.WithError(err).Warn("orchestrator: ledger append failed")
	}
}

func truncatePreview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
