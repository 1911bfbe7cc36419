package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown files using goldmark with GFM tables.
// Markdown has no pages; every element is on page 1.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) ([]doctree.Element, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var elements []doctree.Element
	add := func(kind doctree.Kind, t string) {
		if t = strings.TrimSpace(t); t != "" {
			elements = append(elements, doctree.Element{Kind: kind, Text: t, Page: 1})
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			add(doctree.KindTitle, inlineText(node, src))
		case *ast.Paragraph:
			if img, ok := soleImage(node); ok {
				add(doctree.KindImage, imageText(img, src))
				continue
			}
			t := inlineText(node, src)
			if strings.HasPrefix(t, "$$") {
				add(doctree.KindFormula, strings.Trim(t, "$ \n"))
				continue
			}
			add(doctree.KindText, t)
		case *ast.List:
			add(doctree.KindList, listText(node, src))
		case *ast.FencedCodeBlock:
			lang := strings.ToLower(string(node.Language(src)))
			if lang == "math" || lang == "latex" || lang == "tex" {
				add(doctree.KindFormula, blockLines(node, src))
			} else {
				add(doctree.KindText, blockLines(node, src))
			}
		case *ast.CodeBlock:
			add(doctree.KindText, blockLines(node, src))
		case *ast.Blockquote:
			var parts []string
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				parts = append(parts, inlineText(c, src))
			}
			add(doctree.KindText, strings.Join(parts, "\n"))
		case *east.Table:
			add(doctree.KindTable, tableText(node, src))
		}
	}
	return elements, nil
}

// inlineText concatenates the text leaves under n.
func inlineText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.CodeSpan:
			for cc := t.FirstChild(); cc != nil; cc = cc.NextSibling() {
				if tt, ok := cc.(*ast.Text); ok {
					buf.Write(tt.Segment.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

func blockLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return strings.TrimSpace(buf.String())
}

func soleImage(p *ast.Paragraph) (*ast.Image, bool) {
	if p.ChildCount() != 1 {
		return nil, false
	}
	img, ok := p.FirstChild().(*ast.Image)
	return img, ok
}

func imageText(img *ast.Image, src []byte) string {
	if alt := inlineText(img, src); alt != "" {
		return alt
	}
	return string(img.Destination)
}

func listText(list *ast.List, src []byte) string {
	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		items = append(items, "- "+inlineText(item, src))
	}
	return strings.Join(items, "\n")
}

func tableText(table *east.Table, src []byte) string {
	var rows []string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n")
}
