package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	index "github.com/blevesearch/bleve_index_api"
)

const (
	// codeTokenizerName is the registered name of the code tokenizer.
	codeTokenizerName = "agent_brain_code_tokenizer"

	// stopFilterName is the registered name of the stop word filter.
	stopFilterName = "agent_brain_stop"

	// contentAnalyzerName is the registered name of the full analyzer.
	contentAnalyzerName = "agent_brain_content"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(stopFilterName, stopFilterConstructor)

	// bleve scores BM25 through package-level parameters; its k1 default
	// (1.2) differs from ours.
	search.BM25_k1 = BM25K1
	search.BM25_b = BM25B
}

// KeywordIndex wraps bleve for BM25 keyword retrieval over chunk text.
// Filterable attributes are indexed as exact-match keyword fields so
// source_type and language predicates push down into the query.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// keywordDocument is the shape bleve indexes per chunk.
type keywordDocument struct {
	Content    string `json:"content"`
	SourceType string `json:"source_type"`
	Language   string `json:"language"`
}

// NewKeywordIndex opens or creates the keyword index under dir. An
// empty dir creates an in-memory index for tests. A corrupted on-disk
// index is cleared with a warning; the document store remains the
// source of record, so a reindex restores it.
func NewKeywordIndex(dir string) (*KeywordIndex, error) {
	indexMapping, err := createKeywordMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	var path string
	if dir == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		path = filepath.Join(dir, "keyword.bleve")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex required"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open keyword index: %w", err)
	}

	return &KeywordIndex{index: idx, path: path}, nil
}

// createKeywordMapping builds the bleve mapping: BM25 scoring, the
// code-aware analyzer on content, exact keyword fields for filters.
func createKeywordMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.ScoringModel = index.BM25Scoring

	err := indexMapping.AddCustomAnalyzer(contentAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			stopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = contentAnalyzerName

	exactField := bleve.NewTextFieldMapping()
	exactField.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("source_type", exactField)
	docMapping.AddFieldMappingsAt("language", exactField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = contentAnalyzerName
	return indexMapping, nil
}

// Index upserts documents into the keyword index.
func (b *KeywordIndex) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		kd := keywordDocument{
			Content:    doc.Text,
			SourceType: string(doc.SourceType),
			Language:   doc.Language,
		}
		if err := batch.Index(doc.ChunkID, kd); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ChunkID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns up to k BM25 matches, descending score with chunk_id
// tie-break. A query that analyzes to nothing (empty or all stop
// words) returns an empty list.
func (b *KeywordIndex) Search(ctx context.Context, queryStr string, k int, filters Filters) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []SearchResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	finalQuery := bleve.NewConjunctionQuery(matchQuery)
	if len(filters.SourceTypes) > 0 {
		disj := bleve.NewDisjunctionQuery()
		for _, st := range filters.SourceTypes {
			tq := bleve.NewTermQuery(string(st))
			tq.SetField("source_type")
			disj.AddQuery(tq)
		}
		finalQuery.AddQuery(disj)
	}
	if len(filters.Languages) > 0 {
		disj := bleve.NewDisjunctionQuery()
		for _, lang := range filters.Languages {
			tq := bleve.NewTermQuery(lang)
			tq.SetField("language")
			disj.AddQuery(tq)
		}
		finalQuery.AddQuery(disj)
	}

	// Over-fetch so equal-score hits at the cut line sort
	// deterministically before truncation.
	req := bleve.NewSearchRequestOptions(finalQuery, overFetch(k), 0, false)
	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, SearchResult{ChunkID: hit.ID, Score: hit.Score})
	}
	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes documents by chunk_id.
func (b *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (b *KeywordIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Reset drops every document and recreates the index.
func (b *KeywordIndex) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	if err := b.index.Close(); err != nil {
		return fmt.Errorf("failed to close index for reset: %w", err)
	}

	indexMapping, err := createKeywordMapping()
	if err != nil {
		return err
	}
	if b.path == "" {
		b.index, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("failed to clear keyword index: %w", err)
		}
		b.index, err = bleve.New(b.path, indexMapping)
	}
	if err != nil {
		return fmt.Errorf("failed to recreate keyword index: %w", err)
	}
	return nil
}

// Close closes the index.
func (b *KeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// overFetch widens a top-k request so ties at the boundary can be
// re-sorted deterministically.
func overFetch(k int) int {
	if k <= 0 {
		return 10
	}
	return k*2 + 10
}

// validateIndexIntegrity checks a bleve index directory before opening
// so a half-written index is cleared instead of wedging startup.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// codeTokenizerConstructor creates the code tokenizer for bleve.
func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCodeTokenizer{}, nil
}

// bleveCodeTokenizer tokenizes with code-aware rules: identifiers
// split on camelCase and snake_case boundaries.
type bleveCodeTokenizer struct{}

func (t *bleveCodeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

// stopFilterConstructor creates the stop word filter for bleve.
func stopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveStopFilter{stopWords: BuildStopWordMap(DefaultStopWords)}, nil
}

// bleveStopFilter drops stop words from the token stream.
type bleveStopFilter struct {
	stopWords map[string]struct{}
}

func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
