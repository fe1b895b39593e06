package dom

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Selector is a compiled CSS selector group. The in-memory tree evaluates
// the same platform selectors the live page hands to querySelectorAll.
type Selector struct {
	raw string
	sel cascadia.Selector
}

// Compile parses a selector group ("a.b > c, d[x='y']").
func Compile(s string) (Selector, error) {
	sel, err := cascadia.Compile(s)
	if err != nil {
		return Selector{}, fmt.Errorf("dom: selector %q: %w", s, err)
	}
	return Selector{raw: s, sel: sel}, nil
}

// MustCompile is Compile that panics on error. For package-level selectors.
func MustCompile(s string) Selector {
	sel, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return sel
}

func (s Selector) String() string { return s.raw }

// Match reports whether the element n matches s.
func (s Selector) Match(n *html.Node) bool {
	if n == nil || s.sel == nil {
		return false
	}
	return s.sel.Match(n)
}

// QueryAll returns the descendants of root matching s, in document order.
// root itself is not considered.
func QueryAll(root *html.Node, s Selector) []*html.Node {
	if root == nil || s.sel == nil {
		return nil
	}
	return cascadia.QueryAll(root, s.sel)
}

// Closest returns the nearest inclusive ancestor of n matching s.
func Closest(n *html.Node, s Selector) *html.Node {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if s.Match(p) {
			return p
		}
	}
	return nil
}

// Attr returns the value of attribute key on n, or "".
func Attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
