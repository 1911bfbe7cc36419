package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files. The format carries no rendered page
// numbers, so every element is on page 1.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) ([]doctree.Element, error) {
	// go-docx needs a ReadSeeker+size, so write to temp file.
	tmp, err := os.CreateTemp("", "refgest-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, size)
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx %s: %w", filename, err)
	}

	var elements []doctree.Element
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			if text := docxParagraphText(it); text != "" {
				elements = append(elements, doctree.Element{Kind: docxKind(it, text), Text: text, Page: 1})
			}
		case *docx.Table:
			if text := docxTableText(it); text != "" {
				elements = append(elements, doctree.Element{Kind: doctree.KindTable, Text: text, Page: 1})
			}
		}
	}
	return elements, nil
}

func docxKind(para *docx.Paragraph, text string) doctree.Kind {
	if para.Properties != nil && para.Properties.Style != nil {
		style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
		switch {
		case style == "title" || strings.HasPrefix(style, "heading"):
			return doctree.KindTitle
		case style == "caption":
			if tableCaptionRe.MatchString(text) {
				return doctree.KindTable
			}
			return doctree.KindFigure
		case strings.HasPrefix(style, "listparagraph"):
			return doctree.KindList
		}
	}
	return classifyLine(text)
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func docxTableText(t *docx.Table) string {
	var rows []string
	for _, row := range t.TableRows {
		var cells []string
		for _, cell := range row.TableCells {
			var parts []string
			for _, para := range cell.Paragraphs {
				if text := docxParagraphText(para); text != "" {
					parts = append(parts, text)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		rows = append(rows, strings.Join(cells, " | "))
	}
	return strings.Join(rows, "\n")
}
