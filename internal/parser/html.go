package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/refgest/internal/doctree"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files. HTML has no pages; every element is on
// page 1.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) ([]doctree.Element, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var elements []doctree.Element
	add := func(kind doctree.Kind, t string) {
		if t = strings.TrimSpace(t); t != "" {
			elements = append(elements, doctree.Element{Kind: kind, Text: t, Page: 1})
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if headingLevel(n.Data) > 0 {
				add(doctree.KindTitle, textContent(n))
				return
			}
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "noscript":
				return
			case "p", "blockquote", "pre":
				add(doctree.KindText, textContent(n))
				return
			case "ul", "ol", "dl":
				add(doctree.KindList, listContent(n))
				return
			case "table":
				add(doctree.KindTable, tableContent(n))
				return
			case "figure":
				add(doctree.KindFigure, figureContent(n))
				return
			case "img":
				add(doctree.KindImage, attr(n, "alt"))
				return
			case "math":
				add(doctree.KindFormula, textContent(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if title := findTitle(doc); title != "" {
		add(doctree.KindTitle, title)
	}
	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	return elements, nil
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.Join(strings.Fields(buf.String()), " ")
}

func listContent(n *html.Node) string {
	var items []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "li" || c.Data == "dt" || c.Data == "dd") {
			if t := textContent(c); t != "" {
				items = append(items, "- "+t)
			}
		}
	}
	return strings.Join(items, "\n")
}

func tableContent(n *html.Node) string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, textContent(c))
				}
			}
			rows = append(rows, strings.Join(cells, " | "))
			return
		}
		if n.Type == html.ElementNode && n.Data == "caption" {
			rows = append(rows, textContent(n))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(rows, "\n")
}

// figureContent prefers the caption, then image alt text.
func figureContent(n *html.Node) string {
	if caption := findElement(n, "figcaption"); caption != nil {
		if t := textContent(caption); t != "" {
			return t
		}
	}
	if img := findElement(n, "img"); img != nil {
		return attr(img, "alt")
	}
	return textContent(n)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findTitle(n *html.Node) string {
	if t := findElement(n, "title"); t != nil {
		return textContent(t)
	}
	return ""
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
