package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode"
)

// Static generates embeddings by hashing tokens and character n-grams
// into a fixed-width vector. It needs no network, no model download,
// and is fully deterministic, at the cost of semantic quality. Used as
// the fallback when no embedding server is available.
type Static struct {
	dims int
}

// Token and n-gram contributions to the hashed vector.
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// programmingStopWords filters keywords that carry no topical signal.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStatic creates a static provider. dims <= 0 selects the default
// width.
func NewStatic(dims int) *Static {
	if dims <= 0 {
		dims = DefaultStaticDimensions
	}
	return &Static{dims: dims}
}

var _ Provider = (*Static)(nil)

func (s *Static) Name() string { return "static" }

func (s *Static) Dimensions() int { return s.dims }

// Health always succeeds; the static provider has no dependencies.
func (s *Static) Health(_ context.Context) error { return nil }

// Embed hashes each text into a unit-norm vector. Blank texts map to
// zero vectors.
func (s *Static) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = make([]float32, s.dims)
			continue
		}
		results[i] = normalizeVector(s.generateVector(trimmed))
	}
	return results, nil
}

// Summarize returns a deterministic extract: the first line of the
// text plus a stable content fingerprint. Good enough for offline use.
func (s *Static) Summarize(_ context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil
	}
	firstLine := trimmed
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = strings.TrimSpace(firstLine[:idx])
	}
	const maxLen = 200
	if len(firstLine) > maxLen {
		firstLine = firstLine[:maxLen]
	}
	sum := sha256.Sum256([]byte(trimmed))
	return firstLine + " [" + hex.EncodeToString(sum[:4]) + "]", nil
}

func (s *Static) generateVector(text string) []float32 {
	vector := make([]float32, s.dims)

	for _, token := range filterStopWords(tokenizeCode(text)) {
		vector[hashToIndex(token, s.dims)] += staticTokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, staticNgramSize) {
		vector[hashToIndex(ngram, s.dims)] += staticNgramWeight
	}

	return vector
}

// tokenizeCode splits text into lowercase tokens, breaking camelCase
// and snake_case identifiers apart.
func tokenizeCode(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			lower := strings.ToLower(t)
			if lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Split on case boundaries, keeping acronym runs together.
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !programmingStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
