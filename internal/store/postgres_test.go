package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pgBackend connects to the database named by AGENT_BRAIN_TEST_PG, or
// skips. The database is reset before each test.
func pgBackend(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("AGENT_BRAIN_TEST_PG")
	if dsn == "" {
		t.Skip("AGENT_BRAIN_TEST_PG not set; skipping postgres backend tests")
	}

	p, err := NewPostgres(PostgresOptions{DatabaseURL: dsn, PoolSize: 2, MaxOverflow: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Reset(ctx))
	require.NoError(t, p.Initialize(ctx))
	return p
}

func TestPostgres_UpsertCountAndReplace(t *testing.T) {
	p := pgBackend(t)
	ctx := context.Background()

	docs := []*Document{
		orthogonalDoc("pg-a", 0, "alpha content"),
		orthogonalDoc("pg-b", 1, "beta content"),
	}
	require.NoError(t, p.UpsertDocuments(ctx, docs))

	counts, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)

	require.NoError(t, p.UpsertDocuments(ctx, []*Document{orthogonalDoc("pg-a", 0, "alpha rewritten")}))
	counts, err = p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
}

func TestPostgres_DimensionEnforced(t *testing.T) {
	p := pgBackend(t)
	ctx := context.Background()

	require.NoError(t, p.UpsertDocuments(ctx, []*Document{orthogonalDoc("pg-a", 0, "alpha")}))

	bad := orthogonalDoc("pg-bad", 0, "bad")
	bad.Embedding = []float32{1, 0}
	err := p.UpsertDocuments(ctx, []*Document{bad})
	require.Error(t, err)

	counts, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}

func TestPostgres_HybridSearch(t *testing.T) {
	p := pgBackend(t)
	ctx := context.Background()

	docs := []*Document{
		orthogonalDoc("pg-a", 0, "alpha discusses lifecycle management"),
		orthogonalDoc("pg-b", 1, "beta covers embedding batches"),
		orthogonalDoc("pg-c", 2, "gamma explains reciprocal rank fusion"),
	}
	require.NoError(t, p.UpsertDocuments(ctx, docs))

	query := make([]float32, 8)
	query[2] = 1
	results, err := p.HybridSearch(ctx, query, "reciprocal rank fusion", 3, 0.5, Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "pg-c", results[0].ChunkID)
}

func TestPostgres_PoolStatusInvariant(t *testing.T) {
	p := pgBackend(t)

	status, err := p.PoolStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, status.PoolSize+status.Overflow, status.Total)
	assert.Equal(t, "ok", status.Status)
}

// TestCrossBackendParity is the regression gate for backend
// consistency: the top-5 hybrid chunk_id sets of the two backends must
// have Jaccard similarity >= 0.6 on the same corpus and query.
func TestCrossBackendParity(t *testing.T) {
	p := pgBackend(t)
	e := newTestBackend(t)
	ctx := context.Background()

	corpus := []*Document{
		orthogonalDoc("par-a", 0, "alpha discusses lifecycle management and locks"),
		orthogonalDoc("par-b", 1, "beta covers embedding batches and providers"),
		orthogonalDoc("par-c", 2, "gamma explains reciprocal rank fusion in retrieval"),
		orthogonalDoc("par-d", 3, "delta describes graph traversal depth"),
		orthogonalDoc("par-e", 4, "epsilon lists configuration options and defaults"),
		orthogonalDoc("par-f", 5, "zeta details vector similarity search"),
		orthogonalDoc("par-g", 6, "eta walks through keyword retrieval scoring"),
	}
	require.NoError(t, p.UpsertDocuments(ctx, corpus))
	require.NoError(t, e.UpsertDocuments(ctx, corpus))

	query := make([]float32, 8)
	query[2] = 1

	pgResults, err := p.HybridSearch(ctx, query, "rank fusion retrieval", 5, 0.5, Filters{})
	require.NoError(t, err)
	emResults, err := e.HybridSearch(ctx, query, "rank fusion retrieval", 5, 0.5, Filters{})
	require.NoError(t, err)

	pgSet := map[string]bool{}
	for _, r := range pgResults {
		pgSet[r.ChunkID] = true
	}
	emSet := map[string]bool{}
	for _, r := range emResults {
		emSet[r.ChunkID] = true
	}

	intersection := 0
	for id := range pgSet {
		if emSet[id] {
			intersection++
		}
	}
	union := len(pgSet) + len(emSet) - intersection
	require.Positive(t, union)
	jaccard := float64(intersection) / float64(union)
	assert.GreaterOrEqual(t, jaccard, 0.6, "cross-backend top-5 parity below gate")
}
