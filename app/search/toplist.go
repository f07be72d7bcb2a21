package search

import "sort"

// ranked is one candidate in the bounded result list. The raw score doubles
// as the confidence slot until rescaling.
type ranked struct {
	confidence float64
	popularity float64
	id         int64
}

// topList keeps the best `limit` candidates sorted descending by raw score.
// Inserting via binary search and truncating after each insertion bounds
// memory without a full sort of the candidate set.
type topList struct {
	limit   int
	entries []ranked
}

func newTopList(limit int) *topList {
	return &topList{limit: limit, entries: make([]ranked, 0, limit)}
}

func (l *topList) insert(score float64, id int64) {
	at := sort.Search(len(l.entries), func(i int) bool {
		return l.entries[i].confidence < score
	})
	if at >= l.limit {
		return
	}

	l.entries = append(l.entries, ranked{})
	copy(l.entries[at+1:], l.entries[at:])
	l.entries[at] = ranked{confidence: score, id: id}
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
}
