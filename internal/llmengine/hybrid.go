package llmengine

import "context"

// HybridEngine routes Embed to a dedicated embedding engine (typically
// the local CPU embedder) while ChatJSON/ChatText stay on a separate
// chat engine. This avoids swapping a single remote model between
// embedding and inference calls, matching the original system's
// USE_HYBRID_EMBEDDINGS knob (spec.md §4.A, §6).
type HybridEngine struct {
	chat  Engine
	embed Engine
}

// NewHybridEngine builds a HybridEngine from a chat engine and a
// dedicated embedding engine.
func NewHybridEngine(chat, embed Engine) *HybridEngine {
	return &HybridEngine{chat: chat, embed: embed}
}

func (e *HybridEngine) Name() string { return e.chat.Name() + "+" + e.embed.Name() }

func (e *HybridEngine) Dimension() int { return e.embed.Dimension() }

func (e *HybridEngine) Embed(ctx context.Context, text string) []float64 {
	return e.embed.Embed(ctx, text)
}

func (e *HybridEngine) ChatJSON(ctx context.Context, systemPrompt, userPrompt string) (JudgeResult, error) {
	return e.chat.ChatJSON(ctx, systemPrompt, userPrompt)
}

func (e *HybridEngine) ChatText(ctx context.Context, systemPrompt, userPrompt string, history []ChatMessage) (string, error) {
	return e.chat.ChatText(ctx, systemPrompt, userPrompt, history)
}
