// Package search implements free-text crate search. Relevance fuses three
// imprecise signals: substring matches against crate names, prefix matches
// against keywords, and (optionally) full-text relevance over descriptions
// and readmes. Download counts then reweight the surviving candidates.
package search

import (
	"math"
	"sort"
	"strings"

	"github.com/delve-search/delve/app/cache"
	"github.com/delve-search/delve/app/fulltext"
	"github.com/delve-search/delve/app/storage"
)

// FullText is the query-time surface of the external full-text collaborator.
// A nil FullText disables the path entirely.
type FullText interface {
	Query(text string, limit int) ([]fulltext.Hit, error)
}

type Engine struct {
	store    storage.Store
	cache    *cache.Cache
	fullText FullText
	weights  Weights
	limit    int
}

// Result pairs a surviving crate with its two scores. Confidence is textual
// relevance rescaled so the best match is 1.0; popularity is download-based
// prominence relative only to the other results of the same query.
type Result struct {
	Confidence float64           `json:"confidence"`
	Popularity float64           `json:"popularity"`
	Crate      cache.CachedCrate `json:"crate"`
}

// NewEngine builds an engine over the given collaborators. fullText may be
// nil. limit bounds the result list (1000 in production).
func NewEngine(store storage.Store, c *cache.Cache, fullText FullText, weights Weights, limit int) *Engine {
	return &Engine{store: store, cache: c, fullText: fullText, weights: weights, limit: limit}
}

// Query tokenizes text on ASCII whitespace and returns the ranked result
// list. A crate survives only if it matched every distinct token via the
// name/keyword path, or received a full-text hit.
func (e *Engine) Query(text string) ([]Result, error) {
	crateScores := map[int64]*queryScore{}

	totalWords := 0
	seen := map[string]struct{}{}

	cratesByName, err := e.cache.CratesByName()
	if err != nil {
		return nil, err
	}

	for _, word := range strings.Fields(text) {
		// The filter below requires every distinct token to match, so a
		// repeated token must not count (or score) twice.
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		totalWords++
		normalizedQuery := storage.NormalizedName(word)
		lowercaseQuery := strings.ToLower(word)

		// Build matches based on the crate names.
		for normalizedName, crateID := range cratesByName {
			if nameScore, ok := Score(normalizedQuery, normalizedName); ok {
				score := crateScores[crateID]
				if score == nil {
					score = newQueryScore()
					crateScores[crateID] = score
				}
				score.name = append(score.name, nameScore)
				score.markWord(word)
			}
		}

		// Adjust matches based on keyword matches.
		keywords, err := e.store.KeywordsWithPrefix(lowercaseQuery)
		if err != nil {
			return nil, err
		}
		for _, keyword := range keywords {
			keywordScore, ok := Score(word, keyword.Keyword)
			if !ok {
				continue
			}
			crateIDs, err := e.store.CrateIDsWithKeyword(keyword.ID)
			if err != nil {
				return nil, err
			}
			for _, crateID := range crateIDs {
				score := crateScores[crateID]
				if score == nil {
					score = newQueryScore()
					crateScores[crateID] = score
				}
				score.keywords = append(score.keywords, keywordScore)
				score.markWord(word)
			}
		}
	}

	// The full-text index runs once per query, over the raw text.
	if e.fullText != nil {
		hits, err := e.fullText.Query(text, e.limit)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			score := crateScores[hit.ID]
			if score == nil {
				score = newQueryScore()
				crateScores[hit.ID] = score
			}
			score.fullText = hit.Score
			score.hasFullText = true
		}
	}

	// Rank the candidates and drop everything that didn't match all search
	// terms (unless the full-text index vouched for it).
	results := newTopList(e.limit)
	for id, score := range crateScores {
		if len(score.matchedWords) == totalWords || score.hasFullText {
			results.insert(score.calculated(e.weights), id)
		}
	}

	if len(results.entries) == 0 {
		return []Result{}, nil
	}

	// Rescale raw scores into confidences relative to the best match.
	maximumConfidence := results.entries[0].confidence

	crates, err := e.cache.Crates()
	if err != nil {
		return nil, err
	}

	var totalDownloads, totalRecentDownloads int64
	candidates := make(map[int64]cache.CachedCrate, len(results.entries))
	for _, entry := range results.entries {
		// A crate can be missing from the cache when a concurrent refresh
		// raced the query; skip it rather than failing the whole query.
		c, ok := crates[entry.id]
		if !ok {
			continue
		}
		totalDownloads += c.Downloads
		totalRecentDownloads += c.RecentDownloads
		candidates[entry.id] = c
	}

	// Weigh in downloads as a percentage of the candidate set's totals. A
	// candidate set with zero downloads overall scores zero popularity
	// everywhere, leaving the ordering to confidence alone.
	for i := range results.entries {
		entry := &results.entries[i]
		c, ok := candidates[entry.id]
		if !ok {
			continue
		}

		entry.confidence /= maximumConfidence

		allTimePercent := share(c.Downloads, totalDownloads)
		recentPercent := share(c.RecentDownloads, totalRecentDownloads)
		entry.popularity = (recentPercent*4 + allTimePercent) / 5
	}

	maximumPopularity := 0.0
	for _, entry := range results.entries {
		if entry.popularity > maximumPopularity {
			maximumPopularity = entry.popularity
		}
	}
	if maximumPopularity == 0 {
		maximumPopularity = 1
	}

	sort.SliceStable(results.entries, func(i, j int) bool {
		a := results.entries[i]
		b := results.entries[j]
		return totalLess(b.confidence*(b.popularity/maximumPopularity), a.confidence*(a.popularity/maximumPopularity))
	})

	final := make([]Result, 0, len(results.entries))
	for _, entry := range results.entries {
		c, ok := candidates[entry.id]
		if !ok {
			continue
		}
		final = append(final, Result{
			Confidence: entry.confidence,
			Popularity: entry.popularity,
			Crate:      c,
		})
	}

	return final, nil
}

func share(count, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// totalLess orders a before b, pushing NaNs last so the sort is total.
func totalLess(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}
