package doctree

import "strings"

// Kind discriminates the Element variants produced by the parsers.
type Kind string

const (
	KindTitle     Kind = "title"
	KindText      Kind = "text"
	KindTable     Kind = "table"
	KindImage     Kind = "image"
	KindFigure    Kind = "figure"
	KindDiagram   Kind = "diagram"
	KindList      Kind = "list"
	KindFormula   Kind = "formula"
	KindComposite Kind = "composite"
)

// Valid reports whether k is a known element kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTitle, KindText, KindTable, KindImage, KindFigure, KindDiagram,
		KindList, KindFormula, KindComposite:
		return true
	}
	return false
}

// Standalone reports whether elements of this kind get a section of their own.
func (k Kind) Standalone() bool {
	switch k {
	case KindTable, KindImage, KindFigure, KindDiagram:
		return true
	}
	return false
}

// Element is one typed unit yielded by a parser. Page is 1-based; 0 means
// the parser had no page information.
type Element struct {
	Kind Kind   `json:"type" yaml:"type"`
	Text string `json:"text" yaml:"text"`
	Page int    `json:"page_number" yaml:"page_number"`
}

// TitleGroup is a contiguous run of elements anchored by a title element.
// The anchor itself is not part of Elements.
type TitleGroup struct {
	Number    int       // 1-based, no gaps
	Title     string    // empty for the group preceding the first title
	StartPage int
	Elements  []Element
}

// SectionType is the kind of content a section holds.
type SectionType string

const (
	SectionText    SectionType = "text"
	SectionTable   SectionType = "table"
	SectionImage   SectionType = "image"
	SectionFigure  SectionType = "figure"
	SectionDiagram SectionType = "diagram"
)

// SectionTypeFor maps an element kind to the section type that holds it.
func SectionTypeFor(k Kind) SectionType {
	switch k {
	case KindTable:
		return SectionTable
	case KindImage:
		return SectionImage
	case KindFigure:
		return SectionFigure
	case KindDiagram:
		return SectionDiagram
	}
	return SectionText
}

// NoLink marks an absent neighbor in the text-only linked view.
const NoLink = -1

// Section is an independently analyzable unit of document content.
// Sections live in a slice ordered by Position; Prev and Next are positions of
// the neighboring text sections (NoLink when absent, always NoLink for
// non-text sections).
type Section struct {
	ID         string
	Type       SectionType
	Elements   []Element
	Position   int
	Group      int // TitleGroup.Number of the owning group
	GroupTitle string
	StartPage  int
	Prev       int
	Next       int
}

// Text joins the text of the section's elements.
func (s *Section) Text() string {
	parts := make([]string, 0, len(s.Elements))
	for _, e := range s.Elements {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// PrevSection returns the previous text section in the linked view.
func PrevSection(sections []Section, s *Section) (*Section, bool) {
	return at(sections, s.Prev)
}

// NextSection returns the next text section in the linked view.
func NextSection(sections []Section, s *Section) (*Section, bool) {
	return at(sections, s.Next)
}

func at(sections []Section, pos int) (*Section, bool) {
	if pos < 0 || pos >= len(sections) || sections[pos].Position != pos {
		return nil, false
	}
	return &sections[pos], true
}
