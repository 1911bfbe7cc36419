// Package relevance turns per-section match signals into bounded document
// scores.
package relevance

import (
	"fmt"
	"math"
	"sort"
)

// MaxScore is the upper bound of every score.
const MaxScore = 100

// SectionSignals are the match flags of one analyzed section.
type SectionSignals struct {
	Context   bool `json:"has_context"`
	Theme     bool `json:"has_theme"`
	Keyword   bool `json:"has_keyword"`
	Similar   bool `json:"has_similar_keyword"`
	Citations int  `json:"citations"`
}

// Counts aggregates section signals over a document.
type Counts struct {
	Sections int `json:"sections"`
	Context  int `json:"context_matches"`
	Theme    int `json:"theme_matches"`
	Keyword  int `json:"keyword_matches"`
	Similar  int `json:"similar_matches"`
	Cited    int `json:"cited_sections"`
}

// Add folds one section into c.
func (c *Counts) Add(s SectionSignals) {
	c.Sections++
	if s.Context {
		c.Context++
	}
	if s.Theme {
		c.Theme++
	}
	if s.Keyword {
		c.Keyword++
	}
	if s.Similar {
		c.Similar++
	}
	if s.Citations > 0 {
		c.Cited++
	}
}

// Aggregate counts sections in order.
func Aggregate(sections []SectionSignals) Counts {
	var c Counts
	for _, s := range sections {
		c.Add(s)
	}
	return c
}

// Signals is everything a document score is computed from.
type Signals struct {
	Counts
	DocumentRelevant bool `json:"document_relevant"`
}

// Scorer computes section and document scores in [0, MaxScore].
type Scorer interface {
	Name() string
	Section(s SectionSignals) float64
	Document(sig Signals) float64
}

// Strategy names.
const (
	StrategyCount    = "count"
	StrategyWeighted = "weighted"
)

// ForName returns the scorer registered under name.
func ForName(name string) (Scorer, error) {
	switch name {
	case StrategyCount, "":
		return CountScorer{}, nil
	case StrategyWeighted:
		return WeightedScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown scoring strategy %q (want %s or %s)", name, StrategyCount, StrategyWeighted)
	}
}

// CountScorer weights raw match counts and adds a flat bonus when the
// summary-level check found the document relevant.
type CountScorer struct{}

const (
	countContext  = 10
	countTheme    = 4
	countKeyword  = 4
	countSimilar  = 1
	countRelevant = 4
)

func (CountScorer) Name() string { return StrategyCount }

func (CountScorer) Section(s SectionSignals) float64 {
	return clamp(float64(countContext*b2i(s.Context) + countTheme*b2i(s.Theme) +
		countKeyword*b2i(s.Keyword) + countSimilar*b2i(s.Similar)))
}

func (CountScorer) Document(sig Signals) float64 {
	raw := sig.Context*countContext + sig.Theme*countTheme +
		sig.Keyword*countKeyword + sig.Similar*countSimilar
	if sig.DocumentRelevant {
		raw += countRelevant
	}
	return clamp(float64(raw))
}

// WeightedScorer normalizes weighted section sums by the section count and
// scales the result by a summary-match factor.
type WeightedScorer struct{}

const (
	weightContext  = 1.5
	weightKeyword  = 0.8
	weightSimilar  = 0.5
	weightCitation = 0.3
	weightMax      = weightContext + weightKeyword + weightSimilar + weightCitation
	summaryBonus   = 0.2
)

func (WeightedScorer) Name() string { return StrategyWeighted }

func (WeightedScorer) Section(s SectionSignals) float64 {
	sum := weightContext*float64(b2i(s.Context)) + weightKeyword*float64(b2i(s.Keyword)) +
		weightSimilar*float64(b2i(s.Similar))
	if s.Citations > 0 {
		sum += weightCitation
	}
	return clamp(round2(sum / weightMax * MaxScore))
}

func (WeightedScorer) Document(sig Signals) float64 {
	if sig.Sections == 0 {
		return 0
	}
	sum := weightContext*float64(sig.Context) + weightKeyword*float64(sig.Keyword) +
		weightSimilar*float64(sig.Similar) + weightCitation*float64(sig.Cited)
	score := sum / (float64(sig.Sections) * weightMax) * MaxScore
	score *= 1 + summaryBonus*float64(b2i(sig.DocumentRelevant))
	return clamp(round2(score))
}

// Rank sorts items by descending score. Equal scores keep their input order.
func Rank[T any](items []T, score func(T) float64) {
	sort.SliceStable(items, func(i, j int) bool {
		return score(items[i]) > score(items[j])
	})
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(MaxScore, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
