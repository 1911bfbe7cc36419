package extract

import (
	"fmt"
	"strings"
)

const metadataPrompt = `Extract bibliographic metadata from the opening pages of an academic document.

Return a JSON object with:
- "title": the document title
- "authors": list of author names in order of appearance
- "year": four-digit publication year, or "" if not stated
- "summary": a 3-5 sentence summary of the document's aim, method and findings, in a detached academic tone

Use only information present in the text. Respond with ONLY the JSON object.`

// BuildMetadataPrompt creates the metadata/summary prompt over the opening
// pages of a document.
func BuildMetadataPrompt(openingText string) string {
	var sb strings.Builder
	sb.WriteString(metadataPrompt)
	sb.WriteString("\n\n---\n")
	sb.WriteString(openingText)
	return sb.String()
}

// Query is what a search looks for in a document.
type Query struct {
	Context  string   `json:"context"`
	Theme    string   `json:"theme"`
	Keywords []string `json:"keywords"`
}

// RunningCounts are the match totals so far, fed back into each section
// prompt so the model sees how much evidence was already found.
type RunningCounts struct {
	Analyzed int
	Context  int
	Theme    int
	Keyword  int
	Similar  int
}

const sectionPrompt = `You are assessing whether one section of an academic document is relevant to a research need.

Research context: %s
Theme: %s
Keywords: %s

Document summary:
%s

Sections analyzed so far: %d (context matches: %d, theme matches: %d, keyword matches: %d, similar keyword matches: %d)

Return a JSON object with:
- "has_context": true if the section directly addresses the research context
- "context": the passage that does so, or ""
- "has_theme": true if the section addresses the theme
- "theme": the passage that does so, or ""
- "has_keyword": true if the section uses any of the keywords
- "keyword": the keyword found, or ""
- "has_similar_keyword": true if the section uses a close synonym or variant of a keyword
- "similar_keyword": the term found, or ""

Judge only this section. Respond with ONLY the JSON object.`

// BuildSectionPrompt creates the per-section relevance prompt.
func BuildSectionPrompt(q Query, summary string, counts RunningCounts, groupTitle, sectionText string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, sectionPrompt, orNone(q.Context), orNone(q.Theme), orNone(strings.Join(q.Keywords, ", ")),
		orNone(summary), counts.Analyzed, counts.Context, counts.Theme, counts.Keyword, counts.Similar)
	sb.WriteString("\n\n---\n")
	if groupTitle != "" {
		fmt.Fprintf(&sb, "Section: %q\n", groupTitle)
	}
	sb.WriteString(sectionText)
	return sb.String()
}

const summaryRelevancePrompt = `Decide whether an academic document is relevant to a research need, based on its summary.

Research context: %s
Theme: %s
Keywords: %s

Return a JSON object with:
- "is_relevant": true if the document is likely to help with the research context
- "reason": one sentence explaining the decision

Respond with ONLY the JSON object.`

// BuildSummaryRelevancePrompt creates the whole-summary relevance prompt.
func BuildSummaryRelevancePrompt(q Query, title, summary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, summaryRelevancePrompt, orNone(q.Context), orNone(q.Theme), orNone(strings.Join(q.Keywords, ", ")))
	sb.WriteString("\n\n---\n")
	fmt.Fprintf(&sb, "Document: %q\n", title)
	sb.WriteString(summary)
	return sb.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
