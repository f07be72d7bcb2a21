package search

// Weights configures how the per-path text scores and the optional full-text
// score fuse into one scalar. Two schemes are in use: the default linear one,
// and a quadratic variant meant to run alongside the full-text index, where
// the full-text relevance is allowed to dominate partial name matches.
type Weights struct {
	Name     float64
	Keyword  float64
	Category float64
	FullText float64
	// Use the quadratic partial-match formula in TextScore.Value.
	QuadraticPartial bool
}

// DefaultWeights is the scheme used when no full-text index is configured.
func DefaultWeights() Weights {
	return Weights{Name: 100, Keyword: 10, Category: 25}
}

// FullTextWeights is the augmented scheme for deployments with a full-text
// index enabled.
func FullTextWeights() Weights {
	return Weights{Name: 100, Keyword: 10, Category: 25, FullText: 50, QuadraticPartial: true}
}

// queryScore accumulates every match a single crate received during one
// query. Each path has a defined zero default: no scores on a path simply
// contributes nothing.
type queryScore struct {
	// Distinct query tokens this crate matched via the name or keyword path.
	matchedWords map[string]struct{}
	name         []TextScore
	keywords     []TextScore
	category     []TextScore
	fullText     float64
	hasFullText  bool
}

func newQueryScore() *queryScore {
	return &queryScore{matchedWords: map[string]struct{}{}}
}

func (s *queryScore) markWord(word string) {
	s.matchedWords[word] = struct{}{}
}

func (s *queryScore) calculated(w Weights) float64 {
	total := 0.0
	for _, score := range s.name {
		total += score.Value(w.QuadraticPartial) * w.Name
	}
	for _, score := range s.keywords {
		total += score.Value(w.QuadraticPartial) * w.Keyword
	}
	for _, score := range s.category {
		total += score.Value(w.QuadraticPartial) * w.Category
	}
	if s.hasFullText {
		total += s.fullText * w.FullText
	}
	return total
}
