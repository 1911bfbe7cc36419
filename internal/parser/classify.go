package parser

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/dgallion1/refgest/internal/doctree"
	"github.com/dgallion1/refgest/internal/refs"
)

var (
	// "1 Introduction", "2.3. Related Work", "IV. RESULTS", "A. Proofs"
	numberedHeadingRe = regexp.MustCompile(`^(?:\d+(?:\.\d+)*\.?|[IVX]+\.|[A-Z]\.)\s+\p{Lu}`)
	tableCaptionRe    = regexp.MustCompile(`^(?i)table\s+[\dIVX]+[.:]`)
	figureCaptionRe   = regexp.MustCompile(`^(?i)(?:figure|fig\.)\s*\d+[.:]`)
	equationRe        = regexp.MustCompile(`^[^.]{0,80}[=∑∫√≤≥±×÷][^.]{0,80}\(\d+\)$`)
	listItemRe        = regexp.MustCompile(`^(?:[-•*·]|\(?[a-z0-9]\))\s+`)

	headingWords = map[string]bool{
		"abstract": true, "introduction": true, "background": true, "related work": true,
		"method": true, "methods": true, "methodology": true, "results": true,
		"discussion": true, "conclusion": true, "conclusions": true,
		"acknowledgements": true, "acknowledgments": true, "appendix": true,
	}
)

const maxHeadingWords = 12

// classifyLine guesses the element kind of one line of extracted text.
// Lines that are not headings, captions, formulas or list items are text.
func classifyLine(line string) doctree.Kind {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return doctree.KindText
	case refs.IsHeading(line):
		return doctree.KindTitle
	case tableCaptionRe.MatchString(line):
		return doctree.KindTable
	case figureCaptionRe.MatchString(line):
		return doctree.KindFigure
	case equationRe.MatchString(line):
		return doctree.KindFormula
	case listItemRe.MatchString(line):
		return doctree.KindList
	case isHeadingLine(line):
		return doctree.KindTitle
	}
	return doctree.KindText
}

func isHeadingLine(line string) bool {
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > maxHeadingWords {
		return false
	}
	if strings.HasSuffix(line, ".") && !numberedHeadingRe.MatchString(line) {
		return false
	}
	lower := strings.ToLower(strings.TrimRight(line, ": "))
	if headingWords[lower] {
		return true
	}
	if numberedHeadingRe.MatchString(line) && !strings.ContainsAny(line, ",;") {
		return true
	}
	return isUpperCase(line) && len(words) <= 8
}

func isUpperCase(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 3
}

// blocksToElements splits the text of one page into elements. Consecutive
// prose lines form one paragraph until a blank line or a line of another
// kind; line breaks are kept so numbered reference lists stay parseable.
func blocksToElements(page int, text string) []doctree.Element {
	var (
		out  []doctree.Element
		para []string
	)
	flush := func() {
		if len(para) > 0 {
			out = append(out, doctree.Element{Kind: doctree.KindText, Text: strings.Join(para, "\n"), Page: page})
			para = para[:0]
		}
	}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		kind := classifyLine(line)
		if kind == doctree.KindText {
			para = append(para, line)
			continue
		}
		flush()
		// List items continue the previous list element.
		if kind == doctree.KindList && len(out) > 0 && out[len(out)-1].Kind == doctree.KindList {
			out[len(out)-1].Text += "\n" + line
			continue
		}
		out = append(out, doctree.Element{Kind: kind, Text: line, Page: page})
	}
	flush()
	return out
}
