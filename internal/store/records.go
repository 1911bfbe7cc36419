// Package store persists documents, section records, reference sets and
// cached LLM responses in SQLite.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dgallion1/refgest/internal/citation"
	"github.com/dgallion1/refgest/internal/doctree"
)

// ErrNotFound is returned for reads and writes against a document that does
// not exist, including one deleted while it was being processed.
var ErrNotFound = errors.New("document not found")

// Document is one ingested source.
type Document struct {
	ID        string          `json:"id"`
	URL       string          `json:"url,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Title     string          `json:"title,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SectionRecord is the persisted output for one section. PrevPosition and
// NextPosition refer to neighbors in the text-only view.
type SectionRecord struct {
	ID           string              `json:"section_id" yaml:"section_id"`
	DocumentID   string              `json:"document_id" yaml:"document_id"`
	Type         doctree.SectionType `json:"type" yaml:"type"`
	Position     int                 `json:"position" yaml:"position"`
	GroupNumber  int                 `json:"group_number" yaml:"group_number"`
	GroupTitle   string              `json:"title,omitempty" yaml:"title,omitempty"`
	Page         int                 `json:"page" yaml:"page"`
	Text         string              `json:"text" yaml:"text"`
	PrevPosition *int                `json:"prev_position" yaml:"prev_position"`
	NextPosition *int                `json:"next_position" yaml:"next_position"`
	Tokens       int                 `json:"tokens" yaml:"tokens"`
	Citations    []citation.Match    `json:"citations" yaml:"citations"`
}

// NewSectionRecord flattens sections[i] and its citation matches. Neighbor
// links that do not resolve within sections are stored as null.
func NewSectionRecord(docID string, sections []doctree.Section, i int, text string, tokens int, matches []citation.Match) SectionRecord {
	if matches == nil {
		matches = []citation.Match{}
	}
	s := &sections[i]
	return SectionRecord{
		ID:           s.ID,
		DocumentID:   docID,
		Type:         s.Type,
		Position:     s.Position,
		GroupNumber:  s.Group,
		GroupTitle:   s.GroupTitle,
		Page:         s.StartPage,
		Text:         text,
		PrevPosition: position(doctree.PrevSection(sections, s)),
		NextPosition: position(doctree.NextSection(sections, s)),
		Tokens:       tokens,
		Citations:    matches,
	}
}

func position(s *doctree.Section, ok bool) *int {
	if !ok {
		return nil
	}
	pos := s.Position
	return &pos
}
