package parser

import (
	"io"
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
)

// TextParser handles plain text files. Form feeds start a new page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) ([]doctree.Element, error) {
	src, err := io.ReadAll(io.LimitReader(r, 64<<20))
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(src), "\r\n", "\n")

	var elements []doctree.Element
	for i, page := range strings.Split(text, "\f") {
		elements = append(elements, blocksToElements(i+1, page)...)
	}
	return elements, nil
}
