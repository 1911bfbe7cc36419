package refs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
)

// Entry is one bibliography item.
type Entry struct {
	ID   string `json:"ref_id" yaml:"ref_id"`
	Text string `json:"text" yaml:"text"`
	Type string `json:"type" yaml:"type"`
}

// Data is the reference set of one document. Position fields are nil when
// no reference section was located (a pasted list has no positions either).
type Data struct {
	Entries    map[string]string `json:"entries" yaml:"entries"`
	Types      map[string]string `json:"types,omitempty" yaml:"types,omitempty"`
	Type       string            `json:"type" yaml:"type"`
	StartPage  *int              `json:"start_page" yaml:"start_page"`
	StartIndex *int              `json:"start_index" yaml:"start_index"`
	EndIndex   *int              `json:"end_index" yaml:"end_index"`
}

// Empty reports whether no entries were found.
func (d *Data) Empty() bool {
	return d == nil || len(d.Entries) == 0
}

// Lookup returns the entry for id.
func (d *Data) Lookup(id string) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}
	text, ok := d.Entries[id]
	if !ok {
		return Entry{}, false
	}
	return Entry{ID: id, Text: text, Type: d.typeOf(id)}, true
}

// Sorted returns all entries, numeric ids first in numeric order, then the
// rest lexically.
func (d *Data) Sorted() []Entry {
	if d.Empty() {
		return nil
	}
	out := make([]Entry, 0, len(d.Entries))
	for id, text := range d.Entries {
		out = append(out, Entry{ID: id, Text: text, Type: d.typeOf(id)})
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

func (d *Data) typeOf(id string) string {
	if t, ok := d.Types[id]; ok {
		return t
	}
	return d.Type
}

func lessID(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// Extract finds the reference section of an element stream and splits it
// into entries. The stream is scanned from the end; the first element with a
// bibliography heading line anchors the section, which runs to the end of
// the stream. No anchor yields empty Data with nil positions.
func Extract(elements []doctree.Element) Data {
	anchor := -1
	for i := len(elements) - 1; i >= 0 && anchor < 0; i-- {
		for _, line := range strings.Split(elements[i].Text, "\n") {
			if IsHeading(line) {
				anchor = i
				break
			}
		}
	}
	if anchor < 0 {
		return Data{Entries: map[string]string{}}
	}

	var sb strings.Builder
	for _, e := range elements[anchor:] {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(e.Text)
	}

	data := ParseText(sb.String())
	page := elements[anchor].Page
	if page < 1 {
		page = 1
	}
	start, end := anchor, len(elements)-1
	data.StartPage = &page
	data.StartIndex = &start
	data.EndIndex = &end
	return data
}

// ParseText splits a reference list into entries. It is used both on an
// extracted reference section and on a user-pasted list. Shapes are tried
// in order: numbered brackets, numbered dots, author-year lines.
func ParseText(text string) Data {
	text = stripHeadings(text)
	if entries := parseBracketed(text); len(entries) > 0 {
		return newData(ShapeNumberedBracket, entries)
	}
	if entries := parseDotted(text); len(entries) > 0 {
		return newData(ShapeNumberedDot, entries)
	}
	if entries := parseAuthorYear(text); len(entries) > 0 {
		return newData(ShapeAuthorYear, entries)
	}
	return Data{Entries: map[string]string{}}
}

func stripHeadings(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !IsHeading(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func newData(shape string, entries map[string]string) Data {
	types := make(map[string]string, len(entries))
	for id := range entries {
		types[id] = shape
	}
	return Data{Entries: entries, Types: types, Type: shape}
}

// parseBracketed takes the text between consecutive [n] markers. A repeated
// id keeps its last occurrence.
func parseBracketed(text string) map[string]string {
	locs := bracketMarkerRe.FindAllStringSubmatchIndex(text, -1)
	entries := make(map[string]string, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		id := text[loc[2]:loc[3]]
		entries[id] = normalizeSpace(text[loc[1]:end])
	}
	return entries
}

// parseDotted takes "1. ..." entries, continuing each onto following lines
// until the next numbered line. The list must start at 1.
func parseDotted(text string) map[string]string {
	locs := dotMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 || text[locs[0][2]:locs[0][3]] != "1" {
		return nil
	}
	entries := make(map[string]string, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		id := text[loc[2]:loc[3]]
		body := text[loc[3]:end]
		body = strings.TrimPrefix(strings.TrimLeft(body, " \t"), ".")
		entries[id] = normalizeSpace(body)
	}
	return entries
}

// parseAuthorYear keys entries by lowercase surname plus year; collisions
// get a letter suffix (smith2020, smith2020a, smith2020b).
func parseAuthorYear(text string) map[string]string {
	entries := make(map[string]string)
	var key string
	var body strings.Builder

	flush := func() {
		if key != "" {
			entries[key] = normalizeSpace(body.String())
		}
		key = ""
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if m := authorYearEntryRe.FindStringSubmatch(line); m != nil {
			flush()
			key = uniqueKey(entries, Fold(m[1])+m[2])
			body.WriteString(line)
			continue
		}
		if key != "" && strings.TrimSpace(line) != "" {
			body.WriteString(" ")
			body.WriteString(line)
		}
	}
	flush()
	return entries
}

func uniqueKey(entries map[string]string, base string) string {
	if _, taken := entries[base]; !taken {
		return base
	}
	for c := 'a'; c <= 'z'; c++ {
		k := base + string(c)
		if _, taken := entries[k]; !taken {
			return k
		}
	}
	return fmt.Sprintf("%s_%d", base, len(entries))
}

// Merge adds incoming entries to existing without overwriting. Ids present
// in both with different text are left untouched and returned as conflicts.
func Merge(existing, incoming Data) (Data, []string) {
	merged := Data{
		Entries:    make(map[string]string, len(existing.Entries)+len(incoming.Entries)),
		Types:      make(map[string]string, len(existing.Entries)+len(incoming.Entries)),
		Type:       existing.Type,
		StartPage:  existing.StartPage,
		StartIndex: existing.StartIndex,
		EndIndex:   existing.EndIndex,
	}
	if merged.Type == "" {
		merged.Type = incoming.Type
	}
	for id, text := range existing.Entries {
		merged.Entries[id] = text
		merged.Types[id] = existing.typeOf(id)
	}

	var conflicts []string
	for _, e := range incoming.Sorted() {
		if current, ok := merged.Entries[e.ID]; ok {
			if current != e.Text {
				conflicts = append(conflicts, e.ID)
			}
			continue
		}
		merged.Entries[e.ID] = e.Text
		merged.Types[e.ID] = e.Type
	}
	return merged, conflicts
}
