package search

import "strings"

// MatchKind classifies where a query token matched inside a candidate string.
type MatchKind int

const (
	ExactMatch MatchKind = iota
	StartsWith
	EndsWith
	Contains
)

// TextScore is one substring match of a query token (needle) against a
// candidate string (haystack). MatchPercent is len(needle)/len(haystack).
type TextScore struct {
	Kind         MatchKind
	MatchPercent float64
}

// Score classifies needle against haystack. The second return is false when
// needle is not a substring of haystack.
func Score(needle, haystack string) (TextScore, bool) {
	offset := strings.Index(haystack, needle)
	if offset < 0 {
		return TextScore{}, false
	}

	matchPercent := float64(len(needle)) / float64(len(haystack))
	switch {
	case offset == 0 && len(needle) == len(haystack):
		return TextScore{Kind: ExactMatch, MatchPercent: matchPercent}, true
	case offset == 0:
		return TextScore{Kind: StartsWith, MatchPercent: matchPercent}, true
	case offset == len(haystack)-len(needle):
		return TextScore{Kind: EndsWith, MatchPercent: matchPercent}, true
	default:
		return TextScore{Kind: Contains, MatchPercent: matchPercent}, true
	}
}

// Value converts the classification into a raw score. The quadratic variant
// squares the partial-match weight, which damps short-substring noise when a
// full-text score is also in play.
func (s TextScore) Value(quadratic bool) float64 {
	switch s.Kind {
	case ExactMatch:
		return 100
	case StartsWith, EndsWith:
		if quadratic {
			return 10 * s.MatchPercent * s.MatchPercent
		}
		return 25 * s.MatchPercent
	default:
		if quadratic {
			return s.MatchPercent * s.MatchPercent
		}
		return s.MatchPercent
	}
}
