package store

import (
	"context"
	"testing"

	"github.com/blevesearch/bleve/v2/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bleve scores through package-level BM25 parameters; package init
// must pin them to ours or bleve falls back to k1=1.2.
func TestKeywordIndex_BM25ParametersPinned(t *testing.T) {
	assert.Equal(t, float64(BM25K1), search.BM25_k1)
	assert.Equal(t, float64(BM25B), search.BM25_b)
}

func TestKeywordIndex_TermSaturation(t *testing.T) {
	idx, err := NewKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, []*Document{
		{ChunkID: "once", Text: "fusion combines rankings from independent retrieval legs"},
		{ChunkID: "thrice", Text: "fusion fusion fusion combines rankings from independent legs"},
	}))

	results, err := idx.Search(ctx, "fusion", 2, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Repetition raises the score, but saturation keeps it well under
	// proportional growth.
	assert.Equal(t, "thrice", results[0].ChunkID)
	assert.Less(t, results[0].Score, results[1].Score*3)
}
