// Package membrane implements the per-tenant nearest-neighbour antibody
// index (component B): a linear-scan cosine-similarity screen over
// known-bad patterns ("antibodies") and known-good patterns ("safe
// anchors"), backed by an atomically-rewritten JSON snapshot with
// mtime-keyed hot reload. Grounded on the original system's
// CognitiveMembrane (layer1/membrane.py): same reload-before-check,
// same threshold, same keyword-extraction rules.
package membrane

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.aegisv.gateway/internal/llmengine"
)

const safeAnchorPrefix = "SAFE:"

// snapshot is the on-disk shape of a tenant's antibody index.
type snapshot struct {
	Vectors  [][]float64 `json:"vectors"`
	Labels   []string    `json:"labels"`
	Patterns []string    `json:"patterns"`
}

// Membrane is a single tenant's Layer 1 screen. It is safe for
// concurrent use: the request path (Check) only reads; mutating
// operations (LearnNewThreat, PruneAntibodies) take mu for the whole
// read-modify-write-persist cycle so Check never observes a
// half-rebuilt index.
type Membrane struct {
	mu sync.RWMutex

	clientID  string
	file      string
	threshold float64

	engine llmengine.Engine
	logger *logrus.Logger

	vectors  [][]float64
	labels   []string
	patterns []string

	lastLoadTime time.Time
	watcher      *snapshotWatcher
}

// New loads (or lazily initializes) a Membrane from stateDir/antibodies.json.
func New(clientID, stateDir string, threshold float64, engine llmengine.Engine, logger *logrus.Logger) *Membrane {
	if threshold <= 0 {
		threshold = 0.75
	}
	if logger == nil {
		logger = logrus.New()
	}
	m := &Membrane{
		clientID:  clientID,
		file:      filepath.Join(stateDir, "antibodies.json"),
		threshold: threshold,
		engine:    engine,
		logger:    logger,
	}
	m.loadLocked()
	return m
}

// WatchForChanges starts an fsnotify watch on the tenant's state
// directory, eagerly reloading when a write lands instead of waiting
// for the next Check. The poll-on-Check path already guarantees
// correctness, so a watch-setup failure (e.g. directory not yet
// created) is logged and otherwise ignored.
func (m *Membrane) WatchForChanges() {
	w, err := newSnapshotWatcher(filepath.Dir(m.file), func() {
		m.mu.Lock()
		m.checkReloadLocked()
		m.mu.Unlock()
	}, m.logger)
	if err != nil {
		m.logger.WithError(err).WithField("tenant", m.clientID).Debug("membrane: fsnotify watch unavailable, relying on poll-on-check")
		return
	}
	m.watcher = w
	m.watcher.Start()
}

// Close stops the background watcher, if one was started.
func (m *Membrane) Close() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

// Len returns the current antibody/anchor count.
func (m *Membrane) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// loadLocked reads the snapshot file, updating lastLoadTime to its
// mtime. Caller must hold mu for writing.
func (m *Membrane) loadLocked() bool {
	info, err := os.Stat(m.file)
	if err != nil {
		return false
	}

	raw, err := os.ReadFile(m.file)
	if err != nil {
		m.logger.WithError(err).WithField("tenant", m.clientID).Warn("membrane: failed to read snapshot")
		return false
	}

	var data snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		m.logger.WithError(err).WithField("tenant", m.clientID).Warn("membrane: failed to parse snapshot")
		return false
	}

	m.vectors = data.Vectors
	m.labels = data.Labels
	m.patterns = data.Patterns
	if len(m.patterns) < len(m.labels) {
		m.patterns = append(m.patterns, make([]string, len(m.labels)-len(m.patterns))...)
	}
	m.lastLoadTime = info.ModTime()
	return true
}

// checkReloadLocked hot-reloads the snapshot if its mtime has advanced since
// the last observed load. Caller must hold mu for writing.
func (m *Membrane) checkReloadLocked() {
	info, err := os.Stat(m.file)
	if err != nil {
		return
	}
	if info.ModTime().After(m.lastLoadTime) {
		m.logger.WithField("tenant", m.clientID).Info("membrane: detected snapshot update on disk, reloading")
		m.loadLocked()
	}
}

// saveLocked atomically persists the in-memory index. Caller must hold
// mu for writing.
func (m *Membrane) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.file), 0o755); err != nil {
		return fmt.Errorf("membrane: create state dir: %w", err)
	}

	data := snapshot{Vectors: m.vectors, Labels: m.labels, Patterns: m.patterns}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("membrane: marshal snapshot: %w", err)
	}

	tmp := m.file + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("membrane: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, m.file); err != nil {
		return fmt.Errorf("membrane: rename temp snapshot: %w", err)
	}

	if info, err := os.Stat(m.file); err == nil {
		m.lastLoadTime = info.ModTime()
	}
	return nil
}

// Check screens prompt against the index, returning whether it is
// safe, a human-readable reason, and the best-match similarity.
func (m *Membrane) Check(ctx context.Context, prompt string) (safe bool, reason string, similarity float64) {
	m.mu.Lock()
	m.checkReloadLocked()
	vectors := m.vectors
	labels := m.labels
	m.mu.Unlock()

	if len(vectors) == 0 {
		return true, "Safe (No Rules)", 0.0
	}

	target := m.engine.Embed(ctx, prompt)

	maxSim := -1.0
	bestLabel := ""
	for i, vec := range vectors {
		sim := cosineSimilarity(target, vec)
		if sim > maxSim {
			maxSim = sim
			bestLabel = labels[i]
		}
	}

	if maxSim <= m.threshold {
		return true, "Safe", maxSim
	}

	if strings.HasPrefix(bestLabel, safeAnchorPrefix) {
		return true, fmt.Sprintf("Semantic match to Safe Anchor: %s", bestLabel), maxSim
	}
	return false, fmt.Sprintf("Semantic match to: %s", bestLabel), maxSim
}

// LearnNewThreat appends a new antibody (or safe anchor, if label has
// the "SAFE:" prefix) and persists the snapshot immediately.
func (m *Membrane) LearnNewThreat(ctx context.Context, text, label string) error {
	vector := m.engine.Embed(ctx, text)
	keywords := extractKeywords(text, 5)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.vectors = append(m.vectors, vector)
	m.labels = append(m.labels, label)
	m.patterns = append(m.patterns, strings.Join(keywords, ", "))

	return m.saveLocked()
}

// PruneAntibodies removes any antibody (never a safe anchor) whose
// similarity to one of safePrompts exceeds the threshold — negative
// learning to correct false positives.
func (m *Membrane) PruneAntibodies(ctx context.Context, safePrompts []string) (pruned int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	toRemove := make(map[int]bool)
	for _, safePrompt := range safePrompts {
		safeVec := m.engine.Embed(ctx, safePrompt)
		for i, vec := range m.vectors {
			if toRemove[i] || strings.HasPrefix(m.labels[i], safeAnchorPrefix) {
				continue
			}
			if cosineSimilarity(safeVec, vec) > m.threshold {
				toRemove[i] = true
			}
		}
	}

	if len(toRemove) == 0 {
		return 0, nil
	}

	newVectors := make([][]float64, 0, len(m.vectors)-len(toRemove))
	newLabels := make([]string, 0, len(m.labels)-len(toRemove))
	newPatterns := make([]string, 0, len(m.patterns)-len(toRemove))
	for i := range m.vectors {
		if toRemove[i] {
			continue
		}
		newVectors = append(newVectors, m.vectors[i])
		newLabels = append(newLabels, m.labels[i])
		newPatterns = append(newPatterns, m.patterns[i])
	}
	m.vectors = newVectors
	m.labels = newLabels
	m.patterns = newPatterns

	if err := m.saveLocked(); err != nil {
		return 0, err
	}
	return len(toRemove), nil
}

// cosineSimilarity returns 0 on dimension mismatch or either vector
// having zero norm, rather than erroring — similarity-at-a-distance
// must always be a well-defined number.
func cosineSimilarity(v1, v2 []float64) float64 {
	if len(v1) != len(v2) {
		return 0.0
	}

	var dot, norm1, norm2 float64
	for i := range v1 {
		dot += v1[i] * v2[i]
		norm1 += v1[i] * v1[i]
		norm2 += v2[i] * v2[i]
	}
	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(norm1) * math.Sqrt(norm2))
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true, "this": true, "that": true,
	"these": true, "what": true, "which": true, "who": true, "when": true,
	"where": true, "how": true, "why": true, "user": true, "query": true,
}

// extractKeywords tokenizes text, drops stopwords and short/punctuation
// tokens, and returns up to topN unique keywords in order of first
// appearance.
func extractKeywords(text string, topN int) []string {
	words := strings.Fields(strings.ToLower(text))

	keywords := make([]string, 0, len(words))
	for _, word := range words {
		clean := strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, word)
		if len(clean) > 2 && !stopwords[clean] {
			keywords = append(keywords, clean)
		}
	}

	seen := make(map[string]bool, len(keywords))
	unique := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if seen[kw] {
			continue
		}
		seen[kw] = true
		unique = append(unique, kw)
	}

	if len(unique) > topN {
		unique = unique[:topN]
	}
	return unique
}
