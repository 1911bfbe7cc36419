package chunker

import (
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
)

// Organize partitions a flat element stream into title groups. Every title
// element opens a new group and becomes its anchor; all other elements join
// the open group. Elements before the first title form group 1 with an empty
// title. An empty stream yields no groups.
func Organize(elements []doctree.Element) []doctree.TitleGroup {
	var groups []doctree.TitleGroup

	for _, e := range elements {
		if e.Kind == doctree.KindTitle {
			groups = append(groups, doctree.TitleGroup{
				Number:    len(groups) + 1,
				Title:     strings.TrimSpace(e.Text),
				StartPage: pageOf(e),
			})
			continue
		}
		if len(groups) == 0 {
			groups = append(groups, doctree.TitleGroup{
				Number:    1,
				StartPage: pageOf(e),
			})
		}
		g := &groups[len(groups)-1]
		g.Elements = append(g.Elements, e)
	}

	return groups
}

// pageOf returns the element's page, defaulting to 1 when the parser gave none.
func pageOf(e doctree.Element) int {
	if e.Page < 1 {
		return 1
	}
	return e.Page
}
