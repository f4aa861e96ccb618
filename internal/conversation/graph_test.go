package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraph_AddInteractionAssignsMonotonicIDs(t *testing.T) {
	g := New()
	id0 := g.AddInteraction("first", []float64{1, 0, 0}, 0, "PASS")
	id1 := g.AddInteraction("second", []float64{1, 0, 0}, 0, "PASS")
	id2 := g.AddInteraction("third", []float64{0, 1, 0}, 0, "PASS")

	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, id2)
	assert.Equal(t, 3, g.Len())
}

func TestGraph_DetectTrajectory_StableWithFewNodes(t *testing.T) {
	g := New()
	g.AddInteraction("a", []float64{1, 0}, 50, "x")
	g.AddInteraction("b", []float64{1, 0}, 60, "x")

	status, delta := g.DetectTrajectory()
	assert.Equal(t, TrajectoryStable, status)
	assert.Equal(t, 0, delta)
}

func TestGraph_DetectTrajectory_Escalating(t *testing.T) {
	g := New()
	g.AddInteraction("a", []float64{1, 0}, 0, "x")
	g.AddInteraction("b", []float64{1, 0}, 15, "x")
	g.AddInteraction("c", []float64{1, 0}, 45, "x")

	status, delta := g.DetectTrajectory()
	assert.Equal(t, TrajectoryEscalating, status)
	assert.Equal(t, 30, delta)
}

func TestGraph_DetectTrajectory_RisingButBelowFloorIsStable(t *testing.T) {
	g := New()
	g.AddInteraction("a", []float64{1, 0}, 0, "x")
	g.AddInteraction("b", []float64{1, 0}, 5, "x")
	g.AddInteraction("c", []float64{1, 0}, 15, "x")

	status, delta := g.DetectTrajectory()
	assert.Equal(t, TrajectoryStable, status)
	assert.Equal(t, 0, delta)
}

func TestGraph_GetContextStr_ExcludesRiskScores(t *testing.T) {
	g := New()
	g.AddInteraction("what is the capital of france", []float64{1, 0}, 90, "BLOCK: test")

	ctxStr := g.GetContextStr(5)
	assert.Contains(t, ctxStr, "Turn 1: what is the capital of france")
	assert.NotContains(t, ctxStr, "90")
	assert.NotContains(t, ctxStr, "BLOCK")
}

func TestGraph_GetContextStr_RespectsLimit(t *testing.T) {
	g := New()
	for i := 0; i < 8; i++ {
		g.AddInteraction("turn", []float64{float64(i), 0}, 0, "x")
	}

	ctxStr := g.GetContextStr(5)
	assert.Equal(t, 5, len(splitLines(ctxStr)))
	assert.Contains(t, ctxStr, "Turn 4:")
	assert.NotContains(t, ctxStr, "Turn 3:")
}

func TestGraph_Reset(t *testing.T) {
	g := New()
	g.AddInteraction("a", []float64{1, 0}, 0, "x")
	g.Reset()
	assert.Equal(t, 0, g.Len())

	status, _ := g.DetectTrajectory()
	assert.Equal(t, TrajectoryStable, status)
}

func TestCosineSimilarity_ZeroAndMismatch(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 2}, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
