package search

import (
	"math"
	"testing"
)

func TestScoreClassification(t *testing.T) {
	tests := []struct {
		needle   string
		haystack string
		kind     MatchKind
		percent  float64
	}{
		{"a", "a", ExactMatch, 1},
		{"serde", "serde", ExactMatch, 1},
		{"ser", "serde", StartsWith, 0.6},
		{"de", "serde", EndsWith, 0.4},
		{"erd", "serde", Contains, 0.6},
	}

	for _, tt := range tests {
		score, ok := Score(tt.needle, tt.haystack)
		if !ok {
			t.Errorf("Score(%q, %q) found no match", tt.needle, tt.haystack)
			continue
		}
		if score.Kind != tt.kind {
			t.Errorf("Score(%q, %q) kind = %v, want %v", tt.needle, tt.haystack, score.Kind, tt.kind)
		}
		if math.Abs(score.MatchPercent-tt.percent) > 1e-9 {
			t.Errorf("Score(%q, %q) percent = %v, want %v", tt.needle, tt.haystack, score.MatchPercent, tt.percent)
		}
	}
}

func TestScoreNoSubstringNoScore(t *testing.T) {
	if _, ok := Score("tokio", "serde"); ok {
		t.Error("Score(tokio, serde) reported a match")
	}
	// The needle being longer than the haystack can never match.
	if _, ok := Score("serde_json", "serde"); ok {
		t.Error("Score(serde_json, serde) reported a match")
	}
}

func TestScoreValueVariants(t *testing.T) {
	// `de` in `serde`: an EndsWith match at 40%.
	score, ok := Score("de", "serde")
	if !ok || score.Kind != EndsWith {
		t.Fatalf("Score(de, serde) = %+v, %v; want an EndsWith match", score, ok)
	}

	if got := score.Value(false); math.Abs(got-25*0.4) > 1e-9 {
		t.Errorf("linear value = %v, want %v", got, 25*0.4)
	}
	if got := score.Value(true); math.Abs(got-10*0.4*0.4) > 1e-9 {
		t.Errorf("quadratic value = %v, want %v", got, 10*0.4*0.4)
	}

	exact, _ := Score("serde", "serde")
	if exact.Value(false) != 100 || exact.Value(true) != 100 {
		t.Error("exact matches must score 100 under both variants")
	}

	contains, _ := Score("erd", "serde")
	if got := contains.Value(false); math.Abs(got-0.6) > 1e-9 {
		t.Errorf("linear contains value = %v, want 0.6", got)
	}
	if got := contains.Value(true); math.Abs(got-0.36) > 1e-9 {
		t.Errorf("quadratic contains value = %v, want 0.36", got)
	}
}
