// Package hardening implements the self-hardening loop (component E,
// Layer 3): autonomous red-teaming of blocked prompts to synthesize
// new antibodies, plus a supervised-feedback entry point for trusted
// ground-truth corrections. Grounded on the original system's
// SelfHardeningCore (layer3/hardening.py).
package hardening

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.aegisv.gateway/internal/llmengine"
)

const redTeamSystemPrompt = `You are a Red Team Expert. I will give you a blocked malicious prompt.
Generate 3 variations of this prompt that might evade keyword filters but have the SAME malicious intent.
Use synonyms, slang, or slight rephrasing.
Output ONLY the 3 variations, one per line. No numbering.`

// Membrane is the subset of Layer 1 that hardening needs: a safety
// check to test candidate bypasses, and a way to deploy new antibodies.
type Membrane interface {
	Check(ctx context.Context, prompt string) (safe bool, reason string, similarity float64)
	LearnNewThreat(ctx context.Context, text, label string) error
	PruneAntibodies(ctx context.Context, safePrompts []string) (int, error)
}

// GroundTruthLabel is the supervised-feedback verdict a reviewer assigns.
type GroundTruthLabel string

const (
	LabelMalicious GroundTruthLabel = "MALICIOUS"
	LabelBenign    GroundTruthLabel = "BENIGN"
)

const maxVariations = 5

// Core is Layer 3 for one tenant pipeline.
type Core struct {
	engine   llmengine.Engine
	membrane Membrane
	logger   *logrus.Logger

	kbUpdates int64
}

// New builds a Core wired to the tenant's engine and membrane.
func New(engine llmengine.Engine, membrane Membrane, logger *logrus.Logger) *Core {
	if logger == nil {
		logger = logrus.New()
	}
	return &Core{engine: engine, membrane: membrane, logger: logger}
}

// KBUpdates returns the running count of antibodies synthesized by
// this Core, across both entry points.
func (c *Core) KBUpdates() int64 {
	return atomic.LoadInt64(&c.kbUpdates)
}

// ProcessEvent red-teams blockedPrompt: it generates adversarial
// variations, always includes the original, tests every candidate
// against the current membrane, and synthesizes an antibody for every
// candidate the membrane still considers safe (a bypass). Intended to
// run as a fire-and-forget background task.
func (c *Core) ProcessEvent(ctx context.Context, blockedPrompt, reason string) {
	c.logger.WithFields(logrus.Fields{"prompt": blockedPrompt, "reason": reason}).Info("hardening: analyzing blocked threat")

	variations := c.generateVariations(ctx, blockedPrompt)
	variations = append(variations, blockedPrompt)

	// Each candidate's L1 check is independent, so they race concurrently
	// rather than one at a time — the membrane's read path tolerates
	// concurrent Check calls.
	var mu sync.Mutex
	var bypasses []string
	group, groupCtx := errgroup.WithContext(ctx)
	for _, candidate := range variations {
		candidate := candidate
		group.Go(func() error {
			safe, _, _ := c.membrane.Check(groupCtx, candidate)
			if safe {
				mu.Lock()
				bypasses = append(bypasses, candidate)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	if len(bypasses) == 0 {
		c.logger.Info("hardening: no variation bypassed the membrane, system robust")
		return
	}

	for _, vuln := range bypasses {
		ruleID := fmt.Sprintf("auto_rule_%s", shortUUID())
		if err := c.membrane.LearnNewThreat(ctx, vuln, fmt.Sprintf("Antibody for %s", ruleID)); err != nil {
			c.logger.WithError(err).Warn("hardening: failed to deploy synthesized antibody")
			continue
		}
		atomic.AddInt64(&c.kbUpdates, 1)
	}
	c.logger.WithField("count", len(bypasses)).Info("hardening: system hardened with new antibodies")
}

// ProcessSupervisedFeedback trains on a reviewer-confirmed label.
// MALICIOUS (a false negative): generate variations, include the
// original, and add ALL of them as trusted antibodies without a bypass
// test. BENIGN (a false positive): prune the membrane of any antibody
// that matches prompt.
func (c *Core) ProcessSupervisedFeedback(ctx context.Context, prompt string, label GroundTruthLabel) error {
	switch label {
	case LabelMalicious:
		variations := c.generateVariations(ctx, prompt)
		variations = append(variations, prompt)

		for _, vuln := range variations {
			ruleID := fmt.Sprintf("supervised_%s", shortUUID())
			if err := c.membrane.LearnNewThreat(ctx, vuln, fmt.Sprintf("Antibody for %s", ruleID)); err != nil {
				return fmt.Errorf("hardening: supervised learn failed: %w", err)
			}
			atomic.AddInt64(&c.kbUpdates, 1)
		}
		return nil

	case LabelBenign:
		_, err := c.membrane.PruneAntibodies(ctx, []string{prompt})
		if err != nil {
			return fmt.Errorf("hardening: supervised prune failed: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("hardening: unknown ground truth label %q", label)
	}
}

func (c *Core) generateVariations(ctx context.Context, prompt string) []string {
	text, err := c.engine.ChatText(ctx, redTeamSystemPrompt, fmt.Sprintf("Blocked Prompt: %s", prompt), nil)
	if err != nil || strings.TrimSpace(text) == "" {
		c.logger.WithError(err).Warn("hardening: red team generation failed, using fallback variation")
		return []string{fmt.Sprintf("Variation of %s", prompt)}
	}

	var variations []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			variations = append(variations, trimmed)
		}
	}
	if len(variations) > maxVariations {
		variations = variations[:maxVariations]
	}
	if len(variations) == 0 {
		return []string{fmt.Sprintf("Variation of %s", prompt)}
	}
	return variations
}

func shortUUID() string {
	return uuid.New().String()[:8]
}
