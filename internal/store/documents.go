package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/agentbrain/agentbrain/internal/errors"
)

// DocumentStore is the embedded backend's source of record: full
// document tuples plus the one-row embedding dimension table that
// enforces dimension uniformity.
type DocumentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewDocumentStore opens (or creates) the document database. An empty
// path opens an in-memory database for tests.
func NewDocumentStore(path string) (*DocumentStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.BackendUnavailable("failed to open document store", err)
	}

	// Single writer prevents lock contention under the WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.BackendUnavailable("failed to configure document store", err)
		}
	}

	s := &DocumentStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DocumentStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
    chunk_id     TEXT PRIMARY KEY,
    text         TEXT NOT NULL,
    source_path  TEXT NOT NULL,
    source_type  TEXT NOT NULL,
    language     TEXT NOT NULL DEFAULT '',
    symbol_name  TEXT NOT NULL DEFAULT '',
    symbol_kind  TEXT NOT NULL DEFAULT '',
    start_line   INTEGER NOT NULL DEFAULT 0,
    end_line     INTEGER NOT NULL DEFAULT 0,
    heading_path TEXT NOT NULL DEFAULT '[]',
    chunk_index  INTEGER NOT NULL DEFAULT 0,
    total_chunks INTEGER NOT NULL DEFAULT 0,
    metadata     TEXT NOT NULL DEFAULT '{}',
    summary      TEXT NOT NULL DEFAULT '',
    embedding    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source_type ON documents(source_type);
CREATE INDEX IF NOT EXISTS idx_documents_language ON documents(language);
CREATE TABLE IF NOT EXISTS embedding_metadata (
    id  INTEGER PRIMARY KEY CHECK (id = 1),
    dim INTEGER NOT NULL CHECK (dim > 0)
);`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.BackendUnavailable("failed to create document schema", err)
	}
	return nil
}

// Dimension returns the recorded embedding dimension, 0 before the
// first write.
func (s *DocumentStore) Dimension(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.BackendUnavailable("document store is closed", nil)
	}

	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dim FROM embedding_metadata WHERE id = 1").Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.BackendUnavailable("failed to read embedding dimension", err)
	}
	return dim, nil
}

// Upsert writes documents in one transaction: validate dimensions
// against the metadata row (writing it on first use), then replace
// rows keyed by chunk_id. All-or-nothing.
func (s *DocumentStore) Upsert(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.BackendUnavailable("document store is closed", nil)
	}

	for _, doc := range docs {
		if doc.ChunkID == "" {
			return errors.InvalidArgument("document with empty chunk_id").WithOp("store.upsert")
		}
		if len(doc.Embedding) == 0 {
			return errors.InvalidArgument(fmt.Sprintf("document %s has no embedding", doc.ChunkID)).WithOp("store.upsert")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.BackendUnavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dim int
	err = tx.QueryRowContext(ctx, "SELECT dim FROM embedding_metadata WHERE id = 1").Scan(&dim)
	if err == sql.ErrNoRows {
		dim = len(docs[0].Embedding)
		if _, err := tx.ExecContext(ctx, "INSERT INTO embedding_metadata (id, dim) VALUES (1, ?)", dim); err != nil {
			return errors.BackendUnavailable("failed to record embedding dimension", err)
		}
	} else if err != nil {
		return errors.BackendUnavailable("failed to read embedding dimension", err)
	}

	for _, doc := range docs {
		if len(doc.Embedding) != dim {
			return errors.DimensionMismatch(dim, len(doc.Embedding)).WithOp("store.upsert")
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR REPLACE INTO documents
    (chunk_id, text, source_path, source_type, language, symbol_name, symbol_kind,
     start_line, end_line, heading_path, chunk_index, total_chunks, metadata, summary, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.BackendUnavailable("failed to prepare upsert", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		headingPath, err := json.Marshal(doc.HeadingPath)
		if err != nil {
			return errors.Internal("failed to encode heading path", err)
		}
		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return errors.Internal("failed to encode metadata", err)
		}
		if _, err := stmt.ExecContext(ctx,
			doc.ChunkID, doc.Text, doc.SourcePath, string(doc.SourceType), doc.Language,
			doc.SymbolName, string(doc.SymbolKind), doc.StartLine, doc.EndLine,
			string(headingPath), doc.ChunkIndex, doc.TotalChunks, string(metadata),
			doc.Summary, encodeEmbedding(doc.Embedding),
		); err != nil {
			return errors.BackendUnavailable(fmt.Sprintf("failed to upsert document %s", doc.ChunkID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.BackendUnavailable("failed to commit upsert", err)
	}
	return nil
}

// Get returns documents by chunk_id; missing IDs are skipped.
func (s *DocumentStore) Get(ctx context.Context, ids []string) (map[string]*Document, error) {
	if len(ids) == 0 {
		return map[string]*Document{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.BackendUnavailable("document store is closed", nil)
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT chunk_id, text, source_path, source_type, language, symbol_name, symbol_kind,
       start_line, end_line, heading_path, chunk_index, total_chunks, metadata, summary, embedding
FROM documents WHERE chunk_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, errors.BackendUnavailable("failed to query documents", err)
	}
	defer rows.Close()

	result := make(map[string]*Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result[doc.ChunkID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, errors.BackendUnavailable("failed to read documents", err)
	}
	return result, nil
}

// AllIDs returns every chunk_id, sorted.
func (s *DocumentStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.BackendUnavailable("document store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT chunk_id FROM documents ORDER BY chunk_id")
	if err != nil {
		return nil, errors.BackendUnavailable("failed to list chunk ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.BackendUnavailable("failed to scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Counts returns the corpus totals, broken down by source type.
func (s *DocumentStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Counts{}, errors.BackendUnavailable("document store is closed", nil)
	}

	counts := Counts{BySourceType: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx, "SELECT source_type, COUNT(*) FROM documents GROUP BY source_type")
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

// Reset deletes all documents and clears the dimension metadata.
func (s *DocumentStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.BackendUnavailable("document store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.BackendUnavailable("failed to begin reset", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return errors.BackendUnavailable("failed to clear documents", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM embedding_metadata"); err != nil {
		return errors.BackendUnavailable("failed to clear embedding metadata", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.BackendUnavailable("failed to commit reset", err)
	}
	return nil
}

// Close closes the database.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner abstracts sql.Rows / sql.Row for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var doc Document
	var sourceType, symbolKind, headingPath, metadata string
	var embedding []byte

	err := row.Scan(&doc.ChunkID, &doc.Text, &doc.SourcePath, &sourceType, &doc.Language,
		&doc.SymbolName, &symbolKind, &doc.StartLine, &doc.EndLine, &headingPath,
		&doc.ChunkIndex, &doc.TotalChunks, &metadata, &doc.Summary, &embedding)
	if err != nil {
		return nil, errors.BackendUnavailable("failed to scan document", err)
	}

	doc.SourceType = SourceType(sourceType)
	doc.SymbolKind = SymbolKind(symbolKind)
	if err := json.Unmarshal([]byte(headingPath), &doc.HeadingPath); err != nil {
		return nil, errors.Internal("failed to decode heading path", err)
	}
	if err := json.Unmarshal([]byte(metadata), &doc.Metadata); err != nil {
		return nil, errors.Internal("failed to decode metadata", err)
	}
	doc.Embedding = decodeEmbedding(embedding)
	return &doc, nil
}

// encodeEmbedding packs a float32 vector as little-endian bytes.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
