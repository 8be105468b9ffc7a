package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ranked(ids ...string) []SearchResult {
	results := make([]SearchResult, len(ids))
	for i, id := range ids {
		results[i] = SearchResult{ChunkID: id, Score: float64(len(ids) - i)}
	}
	return results
}

func fusedIDs(results []SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func TestFuseRRF_AlphaOneIsPureVector(t *testing.T) {
	fused := FuseRRF([]Ranking{
		{Weight: 1.0, Results: ranked("a", "b", "c")},
		{Weight: 0.0, Results: ranked("c", "b", "a")},
	}, 3, RRFConstant)

	assert.Equal(t, []string{"a", "b", "c"}, fusedIDs(fused))
}

func TestFuseRRF_AlphaZeroIsPureKeyword(t *testing.T) {
	fused := FuseRRF([]Ranking{
		{Weight: 0.0, Results: ranked("a", "b", "c")},
		{Weight: 1.0, Results: ranked("c", "b", "a")},
	}, 3, RRFConstant)

	assert.Equal(t, []string{"c", "b", "a"}, fusedIDs(fused))
}

func TestFuseRRF_SingleListMembersContribute(t *testing.T) {
	// "d" appears only in the keyword ranking but still scores.
	fused := FuseRRF([]Ranking{
		{Weight: 0.5, Results: ranked("a", "b")},
		{Weight: 0.5, Results: ranked("a", "d")},
	}, 10, RRFConstant)

	assert.Contains(t, fusedIDs(fused), "d")
	// "a" leads both rankings and must fuse first.
	assert.Equal(t, "a", fused[0].ChunkID)
}

func TestFuseRRF_TieBreaksByChunkID(t *testing.T) {
	// "x" and "y" hold mirrored ranks, so fused scores tie exactly.
	fused := FuseRRF([]Ranking{
		{Weight: 0.5, Results: ranked("x", "y")},
		{Weight: 0.5, Results: ranked("y", "x")},
	}, 2, RRFConstant)

	assert.Equal(t, []string{"x", "y"}, fusedIDs(fused))
}

func TestFuseRRF_ScoresMatchFormula(t *testing.T) {
	fused := FuseRRF([]Ranking{
		{Weight: 1.0, Results: ranked("a")},
	}, 1, 60)

	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12)
}

func TestFuseRRF_TruncatesToK(t *testing.T) {
	fused := FuseRRF([]Ranking{
		{Weight: 1.0, Results: ranked("a", "b", "c", "d", "e")},
	}, 2, RRFConstant)

	assert.Len(t, fused, 2)
}

func TestSortResults_DescendingWithIDTieBreak(t *testing.T) {
	results := []SearchResult{
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "a", Score: 0.5},
		{ChunkID: "c", Score: 0.9},
	}
	SortResults(results)
	assert.Equal(t, []string{"c", "a", "b"}, fusedIDs(results))
}
