// Package extract turns a post boundary element into the canonical text that
// is fingerprinted.
package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/dom"
	"github.com/hazyhaar/fakezero/postwatch/platform"
)

var markers = dom.MustCompile(annotate.MarkerSelector)

// Extract returns the canonical text of the post rooted at root.
//
// Every descendant element (or, with ScopeText, every descendant matching the
// text container) contributes its trimmed text content. Images, role=button
// elements and annotation markers are skipped. The first occurrence of each
// distinct string is kept, in document order, joined by newlines. An empty
// result is valid.
func Extract(root *html.Node, p platform.Profile) string {
	var candidates []*html.Node
	if p.ScopeText && p.TextContainer != "" {
		sel, err := dom.Compile(p.TextContainer)
		if err != nil {
			return ""
		}
		candidates = dom.QueryAll(root, sel)
	} else {
		candidates = descendants(root)
	}

	seen := make(map[string]struct{}, len(candidates))
	var parts []string
	for _, n := range candidates {
		if skip(n) || insideMarker(n, root) {
			continue
		}
		text := strings.TrimSpace(textContent(n))
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// FromHTML parses the serialized boundary element and extracts from it.
func FromHTML(outer string, p platform.Profile) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(outer), body)
	if err != nil {
		return "", fmt.Errorf("extract: parse: %w", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	root := body
	if len(nodes) == 1 && nodes[0].Type == html.ElementNode {
		root = nodes[0]
	}
	return Extract(root, p), nil
}

func descendants(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func skip(n *html.Node) bool {
	return n.DataAtom == atom.Img || dom.Attr(n, "role") == "button"
}

// insideMarker reports whether n is, or sits under, an annotation marker
// below root.
func insideMarker(n, root *html.Node) bool {
	for p := n; p != nil && p != root; p = p.Parent {
		if markers.Match(p) {
			return true
		}
	}
	return false
}

// textContent concatenates the text nodes under n, skipping annotation
// markers, like the DOM textContent of the unannotated post.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode:
				if !markers.Match(c) {
					walk(c)
				}
			}
		}
	}
	walk(n)
	return b.String()
}
