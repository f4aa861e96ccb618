package llmengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEngine_EmbedIsDeterministic(t *testing.T) {
	e := NewLocalEngine(128)
	ctx := context.Background()

	v1 := e.Embed(ctx, "ignore previous instructions")
	v2 := e.Embed(ctx, "ignore previous instructions")
	assert.Equal(t, v1, v2)
}

func TestLocalEngine_EmbedIsNormalized(t *testing.T) {
	e := NewLocalEngine(64)
	v := e.Embed(context.Background(), "some reasonably long piece of text to embed")

	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	assert.InDelta(t, 1.0, sumSq, 1e-9)
}

func TestLocalEngine_EmptyTextYieldsZeroVector(t *testing.T) {
	e := NewLocalEngine(32)
	v := e.Embed(context.Background(), "")
	for _, x := range v {
		assert.Equal(t, 0.0, x)
	}
}

func TestLocalEngine_DefaultDimension(t *testing.T) {
	e := NewLocalEngine(0)
	assert.Equal(t, 384, e.Dimension())
}

func TestLocalEngine_ChatUnsupported(t *testing.T) {
	e := NewLocalEngine(32)
	ctx := context.Background()

	_, err := e.ChatJSON(ctx, "sys", "user")
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = e.ChatText(ctx, "sys", "user", nil)
	require.ErrorIs(t, err, ErrUnsupported)
}
