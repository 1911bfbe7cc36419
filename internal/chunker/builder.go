package chunker

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dgallion1/refgest/internal/doctree"
)

// DefaultChunkSize is the number of consecutive prose elements per text section.
const DefaultChunkSize = 3

// Builder turns title groups into sections for one document. Positions are
// assigned from a running counter across every Build call, so groups must be
// built in document order.
type Builder struct {
	docID     string
	chunkSize int
	log       *slog.Logger

	sections []doctree.Section
	ids      map[string]struct{}
}

// NewBuilder creates a Builder for docID. A chunkSize below 1 uses DefaultChunkSize.
func NewBuilder(docID string, chunkSize int, log *slog.Logger) *Builder {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		docID:     docID,
		chunkSize: chunkSize,
		log:       log,
		ids:       make(map[string]struct{}),
	}
}

// Build converts one title group into sections and returns the new ones.
// Standalone elements (tables, images, figures, diagrams) flush the pending
// prose run and then get a single-element section each.
func (b *Builder) Build(g doctree.TitleGroup) []doctree.Section {
	start := len(b.sections)
	var pending []doctree.Element

	for i, e := range g.Elements {
		e, err := b.normalize(e)
		if err != nil {
			b.log.Warn("skipping element", "group", g.Number, "index", i, "error", err)
			continue
		}
		if e.Kind.Standalone() {
			b.flush(g, pending)
			pending = nil
			b.emit(g, doctree.SectionTypeFor(e.Kind), []doctree.Element{e})
			continue
		}
		pending = append(pending, e)
	}
	b.flush(g, pending)

	return b.sections[start:]
}

// Sections returns every section built so far, in position order.
func (b *Builder) Sections() []doctree.Section {
	return b.sections
}

// normalize applies the degrade-not-abort policy: a missing page becomes
// page 1, an unknown kind is rejected.
func (b *Builder) normalize(e doctree.Element) (doctree.Element, error) {
	if !e.Kind.Valid() {
		return e, fmt.Errorf("unknown element kind %q", e.Kind)
	}
	if e.Page < 1 {
		b.log.Warn("element missing page number, defaulting to 1", "kind", e.Kind)
		e.Page = 1
	}
	return e, nil
}

// flush emits ceil(len(run)/chunkSize) text sections for a pending prose run.
func (b *Builder) flush(g doctree.TitleGroup, run []doctree.Element) {
	for i := 0; i < len(run); i += b.chunkSize {
		end := min(i+b.chunkSize, len(run))
		chunk := make([]doctree.Element, end-i)
		copy(chunk, run[i:end])
		b.emit(g, doctree.SectionText, chunk)
	}
}

func (b *Builder) emit(g doctree.TitleGroup, typ doctree.SectionType, elements []doctree.Element) {
	page := elements[0].Page
	b.sections = append(b.sections, doctree.Section{
		ID:         b.newID(page, typ),
		Type:       typ,
		Elements:   elements,
		Position:   len(b.sections),
		Group:      g.Number,
		GroupTitle: g.Title,
		StartPage:  page,
		Prev:       doctree.NoLink,
		Next:       doctree.NoLink,
	})
}

func (b *Builder) newID(page int, typ doctree.SectionType) string {
	for {
		id := fmt.Sprintf("%s_p%d_%s_%s", b.docID, page, typ, uuid.NewString()[:8])
		if _, taken := b.ids[id]; !taken {
			b.ids[id] = struct{}{}
			return id
		}
	}
}

// Link sets Prev/Next between neighboring text sections. It must run once
// over the whole document; non-text sections keep NoLink on both sides.
func Link(sections []doctree.Section) {
	prev := doctree.NoLink
	for i := range sections {
		s := &sections[i]
		s.Prev, s.Next = doctree.NoLink, doctree.NoLink
		if s.Type != doctree.SectionText {
			continue
		}
		if prev != doctree.NoLink {
			s.Prev = prev
			sections[prev].Next = i
		}
		prev = i
	}
}

// BuildDocument organizes elements, builds every group in order and links
// the result.
func BuildDocument(docID string, elements []doctree.Element, chunkSize int, log *slog.Logger) ([]doctree.TitleGroup, []doctree.Section) {
	groups := Organize(elements)
	b := NewBuilder(docID, chunkSize, log)
	for _, g := range groups {
		b.Build(g)
	}
	sections := b.Sections()
	Link(sections)
	return groups, sections
}
