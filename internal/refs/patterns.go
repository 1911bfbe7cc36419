// Package refs locates bibliography sections, splits them into reference
// entries and holds the regular-expression catalogue shared with in-text
// citation matching.
package refs

import (
	"regexp"
	"strings"
)

// Entry shape tags reported in Data.Type and Data.Types.
const (
	ShapeNumberedBracket = "numbered_bracket" // [1] Smith, J. 2020. Title.
	ShapeNumberedDot     = "numbered_dot"     // 1. Smith, J. 2020. Title.
	ShapeAuthorYear      = "author_year"      // Smith, J. (2020). Title.
)

// CitationPattern is one in-text citation shape. For author-year shapes
// group 1 holds the author phrase and group 2 the year; for the numbered
// shape group 1 holds the number list.
type CitationPattern struct {
	Name     string
	Numbered bool
	Re       *regexp.Regexp
}

const (
	surname      = `\p{Lu}[\p{L}'’\-]+`
	authorPhrase = surname + `(?:\s+et\s+al\.?|\s+(?:and|&)\s+` + surname + `)?`
	pageSuffix   = `,\s*pp?\.\s*\d+(?:\s*[-–]\s*\d+)?`
)

// CitationPatterns is the fixed catalogue of in-text citation shapes, in the
// order they are applied.
var CitationPatterns = []CitationPattern{
	// [1], [1,2], [3-5], [1; 4]
	{Name: "numbered", Numbered: true, Re: regexp.MustCompile(`\[(\d+(?:\s*[,;]\s*\d+|\s*[-–]\s*\d+)*)\]`)},
	// (Smith et al., 2020, p. 4)
	{Name: "parenthetical_with_page", Re: regexp.MustCompile(`\((` + authorPhrase + `),?\s+(\d{4})[a-z]?` + pageSuffix + `\)`)},
	// (Smith, Jones, and Lee, 2020)
	{Name: "author_list", Re: regexp.MustCompile(`\((` + surname + `(?:,\s*` + surname + `)+,?\s*(?:and|&)\s*` + surname + `),?\s+(\d{4})[a-z]?\)`)},
	// (Smith, 2020), (Smith and Jones 2020)
	{Name: "parenthetical", Re: regexp.MustCompile(`\((` + authorPhrase + `),?\s+(\d{4})[a-z]?\)`)},
	// Smith et al. (2020, p. 4)
	{Name: "narrative_with_page", Re: regexp.MustCompile(`(` + authorPhrase + `)\s+\((\d{4})[a-z]?` + pageSuffix + `\)`)},
	// Smith et al. (2020)
	{Name: "narrative", Re: regexp.MustCompile(`(` + authorPhrase + `)\s+\((\d{4})[a-z]?\)`)},
}

var (
	// headingNames are the bibliography headings, compared after decoration is stripped.
	headingNames = map[string]bool{
		"references":   true,
		"bibliography": true,
		"works cited":  true,
	}

	// numberedHeadingRe matches "### 7. References", "VII References", "7 Bibliography".
	numberedHeadingRe = regexp.MustCompile(`(?i)^#{0,6}\s*(?:\d+|[ivxlc]+)\.?\s+(references|bibliography|works cited)$`)

	// bracketMarkerRe marks the start of a numbered-bracket entry.
	bracketMarkerRe = regexp.MustCompile(`\[(\d+)\]`)

	// dotMarkerRe marks the start of a numbered-dot entry at line start.
	dotMarkerRe = regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})\.[ \t]+\S`)

	// authorYearEntryRe matches the first line of an author-year entry.
	authorYearEntryRe = regexp.MustCompile(`^\s*(` + surname + `),\s+\p{Lu}.*?(?:^|[^\d])(\d{4})[a-z]?(?:[^\d]|$)`)

	// yearRe finds a four-digit run that is not part of a longer number.
	yearRe = regexp.MustCompile(`(?:^|[^\d])(\d{4})(?:[^\d]|$)`)

	// surnameRe finds a capitalized word of at least two letters.
	surnameRe = regexp.MustCompile(`(?:^|[^\p{L}])(` + surname + `)`)

	// leadingMarkerRe strips "[12]" or "12." numbering from an entry.
	leadingMarkerRe = regexp.MustCompile(`^\s*(?:\[\d+\]|\d{1,3}\.)\s*`)
)

// IsHeading reports whether a single line is a bibliography heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	stripped := strings.ToLower(strings.Trim(line, "[](){}-–—*#:_= \t"))
	if headingNames[stripped] {
		return true
	}
	return numberedHeadingRe.MatchString(strings.TrimRight(line, ":*- \t"))
}

// PublicationYear returns the first four-digit run in text, or "".
func PublicationYear(text string) string {
	if m := yearRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// FirstAuthorSurname returns the first capitalized word of an entry after
// its numbering, skipping initials. It returns "" when none is found.
func FirstAuthorSurname(text string) string {
	text = leadingMarkerRe.ReplaceAllString(text, "")
	if m := surnameRe.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], "'’-")
	}
	return ""
}

// normalizeSpace collapses whitespace runs, including line wraps, to single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
