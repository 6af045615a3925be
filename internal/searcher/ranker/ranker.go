// Package ranker orders search candidates by the rarity of the terms they
// matched and slices the ordering into pages.
package ranker

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
)

// Group is one candidate and the global counts of the distinct terms it
// matched, in match order.
type Group struct {
	Owner  store.Owner
	Counts []uint64
}

type ScoredOwner struct {
	Owner   store.Owner `json:"owner"`
	Score   float64     `json:"score"`
	Matches int         `json:"matches"`
}

// Score is sum(counts) / (n + (n-1)*0.5). Lower is better: rare terms and
// more matches both pull it down.
func Score(counts []uint64) float64 {
	n := len(counts)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	return sum / (float64(n) + float64(n-1)*0.5)
}

// Rank scores groups, sorts them ascending with ties kept in input order,
// caps the list at totalPages*perPage and returns page (1-based).
func Rank(groups []Group, perPage, page, totalPages int) []ScoredOwner {
	if perPage <= 0 || page <= 0 || totalPages <= 0 {
		return []ScoredOwner{}
	}
	scored := make([]ScoredOwner, 0, len(groups))
	for _, g := range groups {
		if len(g.Counts) == 0 {
			continue
		}
		scored = append(scored, ScoredOwner{
			Owner:   g.Owner,
			Score:   Score(g.Counts),
			Matches: len(g.Counts),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score < scored[j].Score
	})
	return Page(scored, perPage, page, totalPages)
}

// Page applies the totalPages*perPage cap and then slices out page. Huge
// paging values never overflow; they just select nothing or everything.
func Page[T any](items []T, perPage, page, totalPages int) []T {
	if perPage <= 0 || page <= 0 || totalPages <= 0 {
		return []T{}
	}
	limit := len(items)
	if totalPages <= limit/perPage {
		limit = totalPages * perPage
	}
	if limit == 0 || page-1 > (limit-1)/perPage {
		return []T{}
	}
	start := (page - 1) * perPage
	return items[start : start+min(perPage, limit-start)]
}
