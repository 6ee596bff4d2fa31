package service

import (
	"sort"

	"github.com/timmy/nagato/internal/domain"
)

// Rerank orders matches by lexical overlap with query: the share of query
// terms found in the match text. Ties keep vector score order. topN <= 0
// keeps every match.
func Rerank(matches []domain.Match, query string, topN int) []domain.Match {
	queryTerms := termSet(query)

	type scored struct {
		match   domain.Match
		overlap float64
		pos     int
	}
	ranked := make([]scored, len(matches))
	for i, m := range matches {
		ranked[i] = scored{match: m, overlap: overlap(queryTerms, m.Text()), pos: i}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].overlap != ranked[j].overlap {
			return ranked[i].overlap > ranked[j].overlap
		}
		if ranked[i].match.Score != ranked[j].match.Score {
			return ranked[i].match.Score > ranked[j].match.Score
		}
		return ranked[i].pos < ranked[j].pos
	})

	if topN <= 0 || topN > len(ranked) {
		topN = len(ranked)
	}
	out := make([]domain.Match, topN)
	for i := 0; i < topN; i++ {
		out[i] = ranked[i].match
	}
	return out
}

func overlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	docTerms := termSet(text)
	hits := 0
	for t := range queryTerms {
		if _, ok := docTerms[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}
