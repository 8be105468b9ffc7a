package graph

import (
	"regexp"
	"sort"
	"strings"
)

// Result is one chunk surfaced by graph traversal. Ordering is
// lexicographic: shallowest depth first, then weighted triple count
// (orphaned provenance counts half), then chunk id.
type Result struct {
	ChunkID string
	// Score is the weighted triple count scaled by inverse depth.
	// Reported for display; it does not drive the ordering.
	Score float64
	// Depth is the shallowest traversal level that reached the chunk.
	Depth int
	// Triples counts the contributing relationships.
	Triples int
}

// QueryOptions tunes a graph query.
type QueryOptions struct {
	// Depth bounds the BFS; <= 0 uses 2.
	Depth int

	// IsLive reports whether a chunk id still exists in the document
	// store. Nil treats every chunk as live.
	IsLive func(chunkID string) bool
}

var queryTokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// Query matches seed entities for the text, walks the graph, and
// ranks the source chunks of the traversed triples.
func Query(s Store, query string, opts QueryOptions) []Result {
	depth := opts.Depth
	if depth <= 0 {
		depth = 2
	}

	seeds := SeedEntities(s, query)
	if len(seeds) == 0 {
		return nil
	}

	type accumulator struct {
		weight  float64
		depth   int
		triples int
	}
	byChunk := map[string]*accumulator{}

	for _, tt := range s.Subgraph(seeds, depth) {
		if tt.SourceChunkID == "" {
			continue
		}
		// Each triple contributes one unit; orphaned provenance counts
		// half. Depth stays a separate rank key rather than folding into
		// the weight, so a shallow chunk always outranks a deep one.
		weight := 1.0
		if opts.IsLive != nil && !opts.IsLive(tt.SourceChunkID) {
			weight /= 2
		}
		acc := byChunk[tt.SourceChunkID]
		if acc == nil {
			acc = &accumulator{depth: tt.Depth}
			byChunk[tt.SourceChunkID] = acc
		}
		acc.weight += weight
		acc.triples++
		if tt.Depth < acc.depth {
			acc.depth = tt.Depth
		}
	}

	results := make([]Result, 0, len(byChunk))
	for chunkID, acc := range byChunk {
		results = append(results, Result{
			ChunkID: chunkID,
			Score:   acc.weight / float64(acc.depth),
			Depth:   acc.depth,
			Triples: acc.triples,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Depth != results[j].Depth {
			return results[i].Depth < results[j].Depth
		}
		// Same depth: Score is weight/depth with equal divisors, so it
		// orders by weighted triple count.
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// SeedEntities matches query tokens against entity names. A token
// matches a name token exactly, or within edit distance 1 when the
// token is long enough that a single edit is unlikely to be a
// different word.
func SeedEntities(s Store, query string) []string {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil
	}

	var seeds []string
	for _, entity := range s.Entities() {
		if entityMatches(entity, tokens) {
			seeds = append(seeds, entity.ID)
		}
	}
	return seeds
}

func queryTokens(query string) []string {
	var tokens []string
	seen := map[string]bool{}
	for _, raw := range queryTokenRegex.FindAllString(strings.ToLower(query), -1) {
		if len(raw) < 2 || seen[raw] {
			continue
		}
		seen[raw] = true
		tokens = append(tokens, raw)
	}
	return tokens
}

func entityMatches(entity Entity, tokens []string) bool {
	name := NormalizeName(entity.Name)
	nameTokens := queryTokenRegex.FindAllString(name, -1)

	for _, token := range tokens {
		if token == name {
			return true
		}
		for _, nameToken := range nameTokens {
			if token == nameToken {
				return true
			}
			if len(token) > 3 && withinEditDistanceOne(token, nameToken) {
				return true
			}
		}
	}
	return false
}

// withinEditDistanceOne reports Levenshtein distance <= 1 without
// building the full DP table.
func withinEditDistanceOne(a, b string) bool {
	la, lb := len(a), len(b)
	if la > lb {
		a, b, la, lb = b, a, lb, la
	}
	if lb-la > 1 {
		return false
	}

	i, j := 0, 0
	edits := 0
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		edits++
		if edits > 1 {
			return false
		}
		if la == lb {
			i++ // substitution
		}
		j++ // insertion into the shorter string
	}
	edits += lb - j
	return edits+la-i <= 1
}
