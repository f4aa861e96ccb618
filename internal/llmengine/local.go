package llmengine

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalEngine is a deterministic local CPU embedder. It supports only
// Embed — ChatJSON and ChatText return ErrUnsupported, matching the
// original system's LocalCPUEngine which raised on chat use (spec.md
// §4.A). No third-party Go sentence-embedding model exists in the
// reference corpus, so this falls back to a deterministic hashed
// bag-of-words feature vector: each token is hashed into one of
// Dimension() buckets with a sign derived from a second hash bit, then
// the vector is L2-normalized. This is stable across process restarts
// and gives textually similar prompts overlapping non-zero buckets,
// which is all the Membrane's cosine-threshold check needs.
type LocalEngine struct {
	dim int
}

// NewLocalEngine returns a LocalEngine producing vectors of width dim.
func NewLocalEngine(dim int) *LocalEngine {
	if dim <= 0 {
		dim = 384
	}
	return &LocalEngine{dim: dim}
}

func (e *LocalEngine) Name() string { return "local-cpu" }

func (e *LocalEngine) Dimension() int { return e.dim }

func (e *LocalEngine) Embed(_ context.Context, text string) []float64 {
	vec := make([]float64, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}
	normalize(vec)
	return vec
}

func (e *LocalEngine) ChatJSON(_ context.Context, _, _ string) (JudgeResult, error) {
	return JudgeResult{}, ErrUnsupported
}

func (e *LocalEngine) ChatText(_ context.Context, _, _ string, _ []ChatMessage) (string, error) {
	return "", ErrUnsupported
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func normalize(v []float64) {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}
