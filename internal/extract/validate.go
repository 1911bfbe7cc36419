package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Metadata is the document-level extraction result. Fallback marks a
// placeholder produced when extraction could not complete.
type Metadata struct {
	Title    string   `json:"title" yaml:"title"`
	Authors  []string `json:"authors" yaml:"authors"`
	Year     string   `json:"year" yaml:"year"`
	Summary  string   `json:"summary" yaml:"summary"`
	Fallback bool     `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// SectionAnalysis holds the relevance flags returned for one section. Each
// text field quotes or paraphrases the matching passage.
type SectionAnalysis struct {
	HasContext        bool   `json:"has_context"`
	Context           string `json:"context"`
	HasTheme          bool   `json:"has_theme"`
	Theme             string `json:"theme"`
	HasKeyword        bool   `json:"has_keyword"`
	Keyword           string `json:"keyword"`
	HasSimilarKeyword bool   `json:"has_similar_keyword"`
	SimilarKeyword    string `json:"similar_keyword"`
}

// SummaryRelevance is the answer to the whole-summary relevance check.
type SummaryRelevance struct {
	Relevant bool   `json:"is_relevant"`
	Reason   string `json:"reason"`
}

const (
	maxTitleLen   = 300
	maxSummaryLen = 4000
	maxAuthors    = 50
	maxQuoteLen   = 1000
)

var (
	injectionPattern = regexp.MustCompile(
		`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
			`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
			`new\s+instructions)`,
	)
	yearPattern = regexp.MustCompile(`^\d{4}$`)
)

// DecodeMetadata validates payload and returns cleaned metadata.
func DecodeMetadata(payload json.RawMessage) (Metadata, error) {
	if err := MetadataSchema.Validate(payload); err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(payload, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	if err := ValidateMetadata(&m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// ValidateMetadata normalizes m in place and rejects unusable results.
func ValidateMetadata(m *Metadata) error {
	if m == nil {
		return fmt.Errorf("nil metadata")
	}
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		return fmt.Errorf("metadata has empty title")
	}
	if injectionPattern.MatchString(m.Title) || injectionPattern.MatchString(m.Summary) {
		return fmt.Errorf("metadata contains instruction-like text")
	}
	m.Title = clip(m.Title, maxTitleLen)
	m.Summary = clip(strings.TrimSpace(m.Summary), maxSummaryLen)

	authors := m.Authors[:0]
	for _, a := range m.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	if len(authors) > maxAuthors {
		authors = authors[:maxAuthors]
	}
	m.Authors = authors

	// Years the model could not determine come back as free text.
	if !yearPattern.MatchString(strings.TrimSpace(m.Year)) {
		m.Year = ""
	}
	m.Year = strings.TrimSpace(m.Year)
	return nil
}

// DecodeSectionAnalysis validates payload. A flag without a supporting
// passage is kept; passages are clipped.
func DecodeSectionAnalysis(payload json.RawMessage) (SectionAnalysis, error) {
	if err := SectionAnalysisSchema.Validate(payload); err != nil {
		return SectionAnalysis{}, err
	}
	var a SectionAnalysis
	if err := json.Unmarshal(payload, &a); err != nil {
		return SectionAnalysis{}, fmt.Errorf("decode section analysis: %w", err)
	}
	a.Context = clip(strings.TrimSpace(a.Context), maxQuoteLen)
	a.Theme = clip(strings.TrimSpace(a.Theme), maxQuoteLen)
	a.Keyword = clip(strings.TrimSpace(a.Keyword), maxQuoteLen)
	a.SimilarKeyword = clip(strings.TrimSpace(a.SimilarKeyword), maxQuoteLen)
	return a, nil
}

// DecodeSummaryRelevance validates payload.
func DecodeSummaryRelevance(payload json.RawMessage) (SummaryRelevance, error) {
	if err := SummaryRelevanceSchema.Validate(payload); err != nil {
		return SummaryRelevance{}, err
	}
	var r SummaryRelevance
	if err := json.Unmarshal(payload, &r); err != nil {
		return SummaryRelevance{}, fmt.Errorf("decode summary relevance: %w", err)
	}
	return r, nil
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
