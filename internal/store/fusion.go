package store

import "sort"

// RRFConstant is the smoothing constant K in the reciprocal rank
// fusion formula. 60 is the literature default.
const RRFConstant = 60

// Ranking is one ordered result list entering fusion, with the weight
// its rank contributions carry.
type Ranking struct {
	Weight  float64
	Results []SearchResult
}

// FuseRRF merges rankings by reciprocal rank fusion: each document
// scores the sum over rankings of weight/(K+rank), ranks 1-indexed.
// Documents present in only some rankings still contribute. Output is
// descending by fused score with ascending chunk_id on ties, truncated
// to k (k<=0 means no truncation).
func FuseRRF(rankings []Ranking, k, rrfK int) []SearchResult {
	if rrfK <= 0 {
		rrfK = RRFConstant
	}

	scores := make(map[string]float64)
	docs := make(map[string]*Document)
	for _, ranking := range rankings {
		if ranking.Weight == 0 {
			continue
		}
		for i, r := range ranking.Results {
			rank := i + 1
			scores[r.ChunkID] += ranking.Weight / float64(rrfK+rank)
			if docs[r.ChunkID] == nil && r.Document != nil {
				docs[r.ChunkID] = r.Document
			}
		}
	}

	fused := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, SearchResult{ChunkID: id, Score: score, Document: docs[id]})
	}
	SortResults(fused)

	if k > 0 && len(fused) > k {
		fused = fused[:k]
	}
	return fused
}

// SortResults orders results by score descending, breaking ties by
// ascending chunk_id so repeated queries return identical orderings.
func SortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}
