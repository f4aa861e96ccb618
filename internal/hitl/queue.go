// Package hitl implements the human-in-the-loop review queue: an
// append-only log of ambiguous-risk decisions (component "HITL" in the
// design) awaiting manual disposition.
//
// The original system kept one process-wide queue file, which leaked
// one tenant's ambiguous prompts into every other tenant's review
// surface. This implementation promotes the queue to per-tenant, one
// file per client directory, closing that isolation gap (see the
// REDESIGN FLAGS discussion of the HITL file being global).
package hitl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the disposition of a queued entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Entry is one queued-for-review decision.
type Entry struct {
	Prompt    string    `json:"prompt"`
	RiskScore int       `json:"risk_score"`
	Reason    string    `json:"reason"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is a single tenant's review queue, backed by an append-only
// JSON array file rewritten atomically on every append.
type Queue struct {
	mu     sync.Mutex
	file   string
	logger *logrus.Logger
}

// New returns a Queue backed by stateDir/review_queue.json.
func New(stateDir string, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{file: filepath.Join(stateDir, "review_queue.json"), logger: logger}
}

// Append adds a pending entry to the queue.
func (q *Queue) Append(prompt string, riskScore int, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.loadLocked()
	if err != nil {
		return err
	}

	entries = append(entries, Entry{
		Prompt:    prompt,
		RiskScore: riskScore,
		Reason:    reason,
		Status:    StatusPending,
		Timestamp: time.Now(),
	})

	return q.saveLocked(entries)
}

// List returns every entry currently on the queue.
func (q *Queue) List() ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadLocked()
}

func (q *Queue) loadLocked() ([]Entry, error) {
	raw, err := os.ReadFile(q.file)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hitl: read queue: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("hitl: parse queue: %w", err)
	}
	return entries, nil
}

func (q *Queue) saveLocked(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(q.file), 0o755); err != nil {
		return fmt.Errorf("hitl: create state dir: %w", err)
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("hitl: marshal queue: %w", err)
	}

	tmp := q.file + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("hitl: write temp queue: %w", err)
	}
	return os.Rename(tmp, q.file)
}
