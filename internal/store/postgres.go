package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Postgres implements Backend over PostgreSQL with the pgvector
// extension: HNSW ANN on the embedding column, full-text ranking on a
// generated tsvector, document rows as the source of record.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	// poolSize and overflow mirror the configuration for PoolStatus.
	poolSize int
	overflow int

	// HNSW build parameters.
	hnswM              int
	hnswEfConstruction int

	// dimMu guards lazy creation of the documents table, whose
	// VECTOR(D) type needs the dimension of the first write.
	dimMu sync.Mutex
	dim   int
}

// PostgresOptions configures the PostgreSQL backend.
type PostgresOptions struct {
	DatabaseURL    string
	PoolSize       int
	MaxOverflow    int
	HNSWM          int
	EfConstruction int
	Logger         *slog.Logger
}

// NewPostgres parses the connection string and builds the pool. No
// connection is attempted until Initialize.
func NewPostgres(opts PostgresOptions) (*Postgres, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 5
	}
	if opts.MaxOverflow < 0 {
		opts.MaxOverflow = 0
	}
	if opts.HNSWM <= 0 {
		opts.HNSWM = 16
	}
	if opts.EfConstruction <= 0 {
		opts.EfConstruction = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(opts.DatabaseURL)
	if err != nil {
		return nil, errors.ConfigWrap("invalid database_url", err)
	}
	cfg.MaxConns = int32(opts.PoolSize + opts.MaxOverflow)
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.BackendUnavailable("failed to build connection pool", err)
	}

	return &Postgres{
		pool:               pool,
		logger:             logger.With("component", "store.postgres"),
		poolSize:           opts.PoolSize,
		overflow:           opts.MaxOverflow,
		hnswM:              opts.HNSWM,
		hnswEfConstruction: opts.EfConstruction,
	}, nil
}

// Initialize connects and applies the idempotent schema, retrying
// transient connect failures five times with doubling backoff.
func (p *Postgres) Initialize(ctx context.Context) error {
	err := errors.Retry(ctx, errors.BackendRetryConfig(), func() error {
		return p.initOnce(ctx)
	})
	if err != nil {
		if cerr := errors.FromContext(ctx, "store.initialize"); cerr != nil {
			return cerr
		}
		return errors.BackendUnavailable("postgres initialization failed", err).
			WithSuggestion("check database_url and that PostgreSQL is running with the pgvector extension")
	}
	return nil
}

func (p *Postgres) initOnce(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	_, err := p.pool.Exec(ctx, `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS embedding_metadata (
    id  INTEGER PRIMARY KEY CHECK (id = 1),
    dim INTEGER NOT NULL CHECK (dim > 0)
);`)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	// If a dimension is already recorded, the documents table can be
	// completed now; otherwise it waits for the first write.
	dim, err := p.recordedDimension(ctx)
	if err != nil {
		return err
	}
	if dim > 0 {
		if err := p.ensureDocumentsTable(ctx, dim); err != nil {
			return err
		}
		p.dimMu.Lock()
		p.dim = dim
		p.dimMu.Unlock()
	}
	return nil
}

func (p *Postgres) recordedDimension(ctx context.Context) (int, error) {
	var dim int
	err := p.pool.QueryRow(ctx, "SELECT dim FROM embedding_metadata WHERE id = 1").Scan(&dim)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	return dim, nil
}

// ensureDocumentsTable creates the documents table and its indexes for
// a fixed embedding dimension. Idempotent.
func (p *Postgres) ensureDocumentsTable(ctx context.Context, dim int) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
    chunk_id     TEXT PRIMARY KEY,
    text         TEXT NOT NULL,
    source       TEXT NOT NULL,
    source_type  TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT '',
    symbol_name  TEXT NOT NULL DEFAULT '',
    symbol_kind  TEXT NOT NULL DEFAULT '',
    start_line   INTEGER NOT NULL DEFAULT 0,
    end_line     INTEGER NOT NULL DEFAULT 0,
    heading_path JSONB NOT NULL DEFAULT '[]',
    chunk_index  INTEGER NOT NULL DEFAULT 0,
    total_chunks INTEGER NOT NULL DEFAULT 0,
    metadata     JSONB NOT NULL DEFAULT '{}',
    summary      TEXT NOT NULL DEFAULT '',
    embedding    VECTOR(%d) NOT NULL,
    tsv          TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', text)) STORED
);
CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);
CREATE INDEX IF NOT EXISTS idx_documents_tsv ON documents USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_documents_metadata ON documents USING GIN (metadata);
CREATE INDEX IF NOT EXISTS idx_documents_source_type ON documents (source_type);
CREATE INDEX IF NOT EXISTS idx_documents_language ON documents (language);`,
		dim, p.hnswM, p.hnswEfConstruction)

	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("documents table: %w", err)
	}
	return nil
}

// UpsertDocuments writes documents in one transaction. The first write
// records the dimension and completes the schema; later writes with a
// different dimension fail before touching any row.
func (p *Postgres) UpsertDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		if doc.ChunkID == "" {
			return errors.InvalidArgument("document with empty chunk_id").WithOp("store.upsert")
		}
		if len(doc.Embedding) == 0 {
			return errors.InvalidArgument(fmt.Sprintf("document %s has no embedding", doc.ChunkID)).WithOp("store.upsert")
		}
	}

	dim, err := p.ensureDimension(ctx, len(docs[0].Embedding))
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if len(doc.Embedding) != dim {
			return errors.DimensionMismatch(dim, len(doc.Embedding)).WithOp("store.upsert")
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.BackendUnavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, doc := range docs {
		headingPath, err := json.Marshal(doc.HeadingPath)
		if err != nil {
			return errors.Internal("failed to encode heading path", err)
		}
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return errors.Internal("failed to encode metadata", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO documents
    (chunk_id, text, source, source_type, language, symbol_name, symbol_kind,
     start_line, end_line, heading_path, chunk_index, total_chunks, metadata, summary, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (chunk_id) DO UPDATE SET
    text = EXCLUDED.text, source = EXCLUDED.source, source_type = EXCLUDED.source_type,
    language = EXCLUDED.language, symbol_name = EXCLUDED.symbol_name,
    symbol_kind = EXCLUDED.symbol_kind, start_line = EXCLUDED.start_line,
    end_line = EXCLUDED.end_line, heading_path = EXCLUDED.heading_path,
    chunk_index = EXCLUDED.chunk_index, total_chunks = EXCLUDED.total_chunks,
    metadata = EXCLUDED.metadata, summary = EXCLUDED.summary, embedding = EXCLUDED.embedding`,
			doc.ChunkID, doc.Text, doc.SourcePath, string(doc.SourceType), doc.Language,
			doc.SymbolName, string(doc.SymbolKind), doc.StartLine, doc.EndLine,
			headingPath, doc.ChunkIndex, doc.TotalChunks, metadata, doc.Summary,
			pgvector.NewVector(doc.Embedding))
		if err != nil {
			return errors.BackendUnavailable(fmt.Sprintf("failed to upsert document %s", doc.ChunkID), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.BackendUnavailable("failed to commit upsert", err)
	}
	return nil
}

// ensureDimension returns the recorded dimension, recording got and
// completing the schema when no dimension exists yet.
func (p *Postgres) ensureDimension(ctx context.Context, got int) (int, error) {
	p.dimMu.Lock()
	defer p.dimMu.Unlock()

	if p.dim > 0 {
		return p.dim, nil
	}
	dim, err := p.recordedDimension(ctx)
	if err != nil {
		return 0, errors.BackendUnavailable("failed to read embedding dimension", err)
	}
	if dim == 0 {
		dim = got
		if _, err := p.pool.Exec(ctx,
			"INSERT INTO embedding_metadata (id, dim) VALUES (1, $1) ON CONFLICT (id) DO NOTHING", dim); err != nil {
			return 0, errors.BackendUnavailable("failed to record embedding dimension", err)
		}
		// A concurrent writer may have won the insert; re-read.
		if dim, err = p.recordedDimension(ctx); err != nil {
			return 0, errors.BackendUnavailable("failed to read embedding dimension", err)
		}
	}
	if err := p.ensureDocumentsTable(ctx, dim); err != nil {
		return 0, errors.BackendUnavailable("failed to create documents table", err)
	}
	p.dim = dim
	return dim, nil
}

// Documents fetches stored documents by chunk_id.
func (p *Postgres) Documents(ctx context.Context, ids []string) (map[string]*Document, error) {
	out := make(map[string]*Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if dim, err := p.Dimension(ctx); err != nil {
		return nil, err
	} else if dim == 0 {
		return out, nil
	}

	sql := fmt.Sprintf("SELECT %s, 0::float8 AS score FROM documents WHERE chunk_id = ANY($1)", documentColumns)
	results, err := p.queryResults(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		out[r.ChunkID] = r.Document
	}
	return out, nil
}

// Dimension returns the recorded embedding dimension.
func (p *Postgres) Dimension(ctx context.Context) (int, error) {
	dim, err := p.recordedDimension(ctx)
	if err != nil {
		return 0, errors.BackendUnavailable("failed to read embedding dimension", err)
	}
	return dim, nil
}

// Count returns corpus totals.
func (p *Postgres) Count(ctx context.Context) (Counts, error) {
	counts := Counts{BySourceType: make(map[string]int)}
	if dim, err := p.Dimension(ctx); err != nil {
		return Counts{}, err
	} else if dim == 0 {
		return counts, nil // no documents table yet
	}

	rows, err := p.pool.Query(ctx, "SELECT source_type, COUNT(*) FROM documents GROUP BY source_type")
	if err != nil {
		return Counts{}, errors.BackendUnavailable("failed to count documents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return Counts{}, errors.BackendUnavailable("failed to scan counts", err)
		}
		counts.BySourceType[st] = n
		counts.Total += n
	}
	return counts, rows.Err()
}

// VectorSearch ranks by cosine similarity mapped to [0,1], filters
// pushed into the WHERE clause.
func (p *Postgres) VectorSearch(ctx context.Context, query []float32, k int, filters Filters) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidArgument("top_k must be positive").WithOp("store.vector_search")
	}
	dim, err := p.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != dim {
		return nil, errors.DimensionMismatch(dim, len(query)).WithOp("store.vector_search")
	}

	where, args := filterClause(filters, 2)
	args = append([]any{pgvector.NewVector(query)}, args...)
	args = append(args, k)

	// <=> is cosine distance (1-cos); (1+cos)/2 == 1 - distance/2.
	sql := fmt.Sprintf(`
SELECT %s, 1 - (embedding <=> $1) / 2 AS score
FROM documents %s
ORDER BY score DESC, chunk_id ASC
LIMIT $%d`, documentColumns, where, len(args))

	return p.queryResults(ctx, sql, args...)
}

// KeywordSearch ranks by full-text relevance over the generated
// tsvector. A query that normalizes to nothing matches no rows.
func (p *Postgres) KeywordSearch(ctx context.Context, query string, k int, filters Filters) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidArgument("top_k must be positive").WithOp("store.keyword_search")
	}
	if dim, err := p.Dimension(ctx); err != nil {
		return nil, err
	} else if dim == 0 {
		return []SearchResult{}, nil
	}

	where, args := filterClause(filters, 2)
	if where == "" {
		where = "WHERE tsv @@ websearch_to_tsquery('english', $1)"
	} else {
		where += " AND tsv @@ websearch_to_tsquery('english', $1)"
	}
	args = append([]any{query}, args...)
	args = append(args, k)

	sql := fmt.Sprintf(`
SELECT %s, ts_rank_cd(tsv, websearch_to_tsquery('english', $1)) AS score
FROM documents %s
ORDER BY score DESC, chunk_id ASC
LIMIT $%d`, documentColumns, where, len(args))

	return p.queryResults(ctx, sql, args...)
}

// HybridSearch runs both rankings concurrently and fuses with RRF.
func (p *Postgres) HybridSearch(ctx context.Context, query []float32, text string, k int, alpha float64, filters Filters) ([]SearchResult, error) {
	if k <= 0 {
		return nil, errors.InvalidArgument("top_k must be positive").WithOp("store.hybrid_search")
	}

	var vectorResults, keywordResults []SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = p.VectorSearch(gctx, query, overFetch(k), filters)
		return err
	})
	g.Go(func() error {
		var err error
		keywordResults, err = p.KeywordSearch(gctx, text, overFetch(k), filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return FuseRRF([]Ranking{
		{Weight: alpha, Results: vectorResults},
		{Weight: 1 - alpha, Results: keywordResults},
	}, k, RRFConstant), nil
}

// Reset drops all documents and the dimension metadata. The documents
// table is dropped so the next corpus can carry a new dimension.
func (p *Postgres) Reset(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
DROP TABLE IF EXISTS documents;
DELETE FROM embedding_metadata;`)
	if err != nil {
		return errors.BackendUnavailable("failed to reset", err)
	}
	p.dimMu.Lock()
	p.dim = 0
	p.dimMu.Unlock()
	return nil
}

// PoolStatus reports live pool metrics; total == pool_size + overflow
// by construction (MaxConns is their sum).
func (p *Postgres) PoolStatus(ctx context.Context) (PoolStatus, error) {
	stat := p.pool.Stat()
	status := "ok"
	if err := p.pool.Ping(ctx); err != nil {
		status = "unavailable"
	}
	return PoolStatus{
		Status:     status,
		PoolSize:   p.poolSize,
		CheckedIn:  int(stat.IdleConns()),
		CheckedOut: int(stat.AcquiredConns()),
		Overflow:   p.overflow,
		Total:      p.poolSize + p.overflow,
	}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// documentColumns is the SELECT list shared by the search queries.
const documentColumns = `chunk_id, text, source, source_type, language, symbol_name, symbol_kind,
       start_line, end_line, heading_path, chunk_index, total_chunks, metadata, summary`

// filterClause builds a WHERE clause for filters; next is the first
// free placeholder ordinal.
func filterClause(filters Filters, next int) (string, []any) {
	var clauses []string
	var args []any
	if len(filters.SourceTypes) > 0 {
		types := make([]string, len(filters.SourceTypes))
		for i, st := range filters.SourceTypes {
			types[i] = string(st)
		}
		clauses = append(clauses, fmt.Sprintf("source_type = ANY($%d)", next))
		args = append(args, types)
		next++
	}
	if len(filters.Languages) > 0 {
		clauses = append(clauses, fmt.Sprintf("language = ANY($%d)", next))
		args = append(args, filters.Languages)
		next++
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func (p *Postgres) queryResults(ctx context.Context, sql string, args ...any) ([]SearchResult, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.BackendUnavailable("search query failed", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var doc Document
		var sourceType, symbolKind string
		var headingPath, metadata []byte
		var score float64
		err := rows.Scan(&doc.ChunkID, &doc.Text, &doc.SourcePath, &sourceType, &doc.Language,
			&doc.SymbolName, &symbolKind, &doc.StartLine, &doc.EndLine, &headingPath,
			&doc.ChunkIndex, &doc.TotalChunks, &metadata, &doc.Summary, &score)
		if err != nil {
			return nil, errors.BackendUnavailable("failed to scan search row", err)
		}
		doc.SourceType = SourceType(sourceType)
		doc.SymbolKind = SymbolKind(symbolKind)
		if err := json.Unmarshal(headingPath, &doc.HeadingPath); err != nil {
			return nil, errors.Internal("failed to decode heading path", err)
		}
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, errors.Internal("failed to decode metadata", err)
		}
		results = append(results, SearchResult{ChunkID: doc.ChunkID, Score: score, Document: &doc})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.BackendUnavailable("failed to read search rows", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

var _ Backend = (*Postgres)(nil)
