// Package llmengine provides the uniform embed/chat_json/chat_text
// abstraction (component A) over the gateway's pluggable LLM backends.
//
// Capability set mirrors spec.md §4.A: a local CPU embedder that only
// supports Embed, and remote chat engines that support all three
// operations. A hybrid engine can route Embed to the local engine while
// chat stays remote, to avoid GPU/VRAM model swaps on co-located hosts.
package llmengine

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by engines that do not implement an operation
// (the local CPU embedder's ChatJSON/ChatText, for instance).
var ErrUnsupported = errors.New("llmengine: operation not supported by this engine")

// ErrEngineCall wraps a failure to reach a remote engine at all (network,
// timeout, non-2xx status). Callers never propagate it to a request's
// response — both Embed and ChatJSON degrade it to a safe fallback value —
// but it is wrapped with errors.Is support so tests can assert on it.
var ErrEngineCall = errors.New("llmengine: engine call failed")

// ErrEngineParse wraps a failure to decode a reachable engine's response
// into the expected shape (chat_json's JSON body, an embeddings payload).
var ErrEngineParse = errors.New("llmengine: engine response parse failed")

// ChatMessage is a single turn in a chat history, shared across providers.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// JudgeResult is the decoded shape of a chat_json response used by Layer 2.
// A JSON object without these keys decodes into the zero value (risk 0,
// empty reason) without an error; only a body that is not JSON at all is
// reported as ErrEngineParse.
type JudgeResult struct {
	RiskScore int    `json:"risk_score"`
	Reason    string `json:"reason"`
}

// Engine is the capability set every provider implements. Embed errors
// degrade to a zero vector (never returned to the caller as an error) per
// spec.md §4.A; ChatJSON call and parse failures return a fail-open
// JudgeResult together with a non-nil error, which fail-open callers
// still treat as "safe" per spec.md §7.
type Engine interface {
	// Name identifies the engine for logging/metrics.
	Name() string

	// Embed returns a vector embedding for text. On any failure it
	// returns a zero vector of Dimension() length rather than an error,
	// since dimension-mismatch/zero-vector cosine already degrades to 0.
	Embed(ctx context.Context, text string) []float64

	// ChatJSON requests a JSON-only completion and decodes it into a
	// JudgeResult. On any failure (call error or parse error) it returns
	// JudgeResult{RiskScore: 0, Reason: "parse error"} and a non-nil err.
	// Layer 2 treats any non-nil err as fail-open (allowed, risk 0,
	// "Inference Error (Fail Open)") (spec.md §4.A, §7).
	ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (JudgeResult, error)

	// ChatText requests a free-form text completion, optionally
	// continuing a history. On failure it returns "" and a non-nil err.
	ChatText(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage) (string, error)

	// Dimension is the embedding width this engine produces.
	Dimension() int
}
