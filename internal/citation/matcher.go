// Package citation links in-text citation markers to reference entries.
package citation

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/refgest/internal/refs"
)

// Source tells which pass produced a match.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceContext Source = "context-search"
)

// MatchTypeContext tags matches found by the reference-driven pass.
const MatchTypeContext = "reference_context"

// ContextWindow is how many characters before a year occurrence are searched
// for the first author's surname.
const ContextWindow = 100

// maxRangeExpansion bounds "[3-500]"-style ranges.
const maxRangeExpansion = 50

// Match is one citation marker resolved to at least one reference entry.
// Start and End are byte offsets into the section text.
type Match struct {
	Text       string       `json:"citation_text" yaml:"citation_text"`
	Start      int          `json:"start" yaml:"start"`
	End        int          `json:"end" yaml:"end"`
	RefNumbers []string     `json:"ref_numbers,omitempty" yaml:"ref_numbers,omitempty"`
	Author     string       `json:"author,omitempty" yaml:"author,omitempty"`
	Year       string       `json:"year,omitempty" yaml:"year,omitempty"`
	References []refs.Entry `json:"matched_references" yaml:"matched_references"`
	Type       string       `json:"match_type" yaml:"match_type"`
	Source     Source       `json:"source" yaml:"source"`
}

// Find runs the pattern pass and the reference-driven pass over text and
// returns the union ordered by position. A later match with exactly the same
// (Start, End) as a kept one is dropped; partial overlaps are kept.
func Find(text string, data *refs.Data) []Match {
	if text == "" || data.Empty() {
		return nil
	}
	index := newEntryIndex(data)

	var all []Match
	all = append(all, patternPass(text, data, index)...)
	all = append(all, contextPass(text, index)...)

	type span struct{ start, end int }
	seen := make(map[span]bool, len(all))
	kept := all[:0]
	for _, m := range all {
		key := span{m.Start, m.End}
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, m)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Start != kept[j].Start {
			return kept[i].Start < kept[j].Start
		}
		return kept[i].End < kept[j].End
	})
	return kept
}

// indexedEntry caches the surname and year of one reference entry.
type indexedEntry struct {
	entry   refs.Entry
	surname string // folded
	rawName string
	year    string
}

func newEntryIndex(data *refs.Data) []indexedEntry {
	sorted := data.Sorted()
	index := make([]indexedEntry, 0, len(sorted))
	for _, e := range sorted {
		name := refs.FirstAuthorSurname(e.Text)
		index = append(index, indexedEntry{
			entry:   e,
			surname: refs.Fold(name),
			rawName: name,
			year:    refs.PublicationYear(e.Text),
		})
	}
	return index
}

func patternPass(text string, data *refs.Data, index []indexedEntry) []Match {
	var out []Match
	for _, p := range refs.CitationPatterns {
		for _, loc := range p.Re.FindAllStringSubmatchIndex(text, -1) {
			m := Match{
				Text:   text[loc[0]:loc[1]],
				Start:  loc[0],
				End:    loc[1],
				Type:   p.Name,
				Source: SourcePattern,
			}
			if p.Numbered {
				m.RefNumbers = splitNumbers(text[loc[2]:loc[3]])
				for _, n := range m.RefNumbers {
					if e, ok := data.Lookup(n); ok {
						m.References = append(m.References, e)
					}
				}
			} else {
				m.Author = leadingSurname(text[loc[2]:loc[3]])
				m.Year = text[loc[4]:loc[5]]
				m.References = resolveAuthorYear(index, m.Author, m.Year)
			}
			if len(m.References) == 0 {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

// contextPass looks, for every entry, for each occurrence of the entry's year
// whose preceding window mentions the entry's first-author surname.
func contextPass(text string, index []indexedEntry) []Match {
	var out []Match
	for _, ie := range index {
		if ie.year == "" || ie.surname == "" {
			continue
		}
		for _, pos := range yearOccurrences(text, ie.year) {
			start := windowStart(text, pos)
			if !strings.Contains(refs.Fold(text[start:pos]), ie.surname) {
				continue
			}
			out = append(out, Match{
				Text:       ie.year,
				Start:      pos,
				End:        pos + len(ie.year),
				Author:     ie.rawName,
				Year:       ie.year,
				References: []refs.Entry{ie.entry},
				Type:       MatchTypeContext,
				Source:     SourceContext,
			})
		}
	}
	return out
}

func resolveAuthorYear(index []indexedEntry, author, year string) []refs.Entry {
	if author == "" {
		return nil
	}
	name := refs.Fold(author)
	var out []refs.Entry
	for _, ie := range index {
		if ie.surname == name && ie.year == year {
			out = append(out, ie.entry)
		}
	}
	return out
}

// splitNumbers expands "1, 2", "1;4" and "3-5" into individual ids.
func splitNumbers(list string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(strings.ReplaceAll(part, "–", "-"), "-")
		if !isRange {
			out = append(out, part)
			continue
		}
		a, errA := strconv.Atoi(strings.TrimSpace(lo))
		b, errB := strconv.Atoi(strings.TrimSpace(hi))
		if errA != nil || errB != nil || b < a || b-a > maxRangeExpansion {
			out = append(out, strings.TrimSpace(lo))
			continue
		}
		for n := a; n <= b; n++ {
			out = append(out, strconv.Itoa(n))
		}
	}
	return out
}

func leadingSurname(phrase string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(phrase), " ")
	return strings.TrimRight(name, ",")
}

// yearOccurrences returns byte offsets of year in text that are not part of
// a longer digit run.
func yearOccurrences(text, year string) []int {
	var out []int
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], year)
		if i < 0 {
			break
		}
		pos := from + i
		end := pos + len(year)
		if (pos == 0 || !isDigit(text[pos-1])) && (end == len(text) || !isDigit(text[end])) {
			out = append(out, pos)
		}
		from = pos + 1
	}
	return out
}

// windowStart returns the byte offset ContextWindow runes before pos.
func windowStart(text string, pos int) int {
	start := pos
	for n := 0; n < ContextWindow && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	return start
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
