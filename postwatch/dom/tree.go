package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/fakezero/idgen"
)

// Tree is an in-memory document parsed with x/net/html. It implements
// Document and MutationSource, and hands out Nodes backed by its elements.
// It serves the offline scanner and tests.
type Tree struct {
	mu     sync.RWMutex
	doc    *html.Node
	origin string
	newKey idgen.Generator

	subMu  sync.Mutex
	subs   map[int]func([]Node)
	nextID int
}

// ParseTree parses a complete HTML document.
func ParseTree(r io.Reader, origin string) (*Tree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Tree{
		doc:    doc,
		origin: origin,
		newKey: idgen.ElementTag,
		subs:   make(map[int]func([]Node)),
	}, nil
}

// ParseTreeString is ParseTree over a string.
func ParseTreeString(markup, origin string) (*Tree, error) {
	return ParseTree(strings.NewReader(markup), origin)
}

// Origin returns the URL the document was loaded from.
func (t *Tree) Origin() string { return t.origin }

// Body returns the body element.
func (t *Tree) Body() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && body == nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "body" {
				body = c
				return
			}
			walk(c)
		}
	}
	walk(t.doc)
	if body == nil {
		return nil
	}
	return t.wrap(body)
}

func (t *Tree) QueryAll(selector string) ([]Node, error) {
	sel, err := compileCached(selector)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.wrapAll(QueryAll(t.doc, sel)), nil
}

// QueryOne returns the first match, or nil.
func (t *Tree) QueryOne(selector string) (Node, error) {
	all, err := t.QueryAll(selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// Subscribe registers fn for insertion batches. fn runs synchronously on the
// goroutine that mutated the tree, after the tree lock is released.
func (t *Tree) Subscribe(fn func(added []Node)) (func(), error) {
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
		})
	}, nil
}

// Append parses markup in the context of parent, appends the result as
// parent's last children and notifies subscribers with the inserted elements.
func (t *Tree) Append(parent Node, markup string) ([]Node, error) {
	p, err := t.unwrap(parent)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if !t.attached(p) {
		t.mu.Unlock()
		return nil, ErrDetached
	}
	frag, err := html.ParseFragment(strings.NewReader(markup), p)
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	var added []*html.Node
	for _, n := range frag {
		p.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, n)
		}
	}
	nodes := t.wrapAll(added)
	t.mu.Unlock()

	if len(nodes) > 0 {
		t.notify(nodes)
	}
	return nodes, nil
}

// Remove detaches n. Removals are not reported to subscribers.
func (t *Tree) Remove(n Node) error {
	h, err := t.unwrap(n)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.Parent != nil {
		h.Parent.RemoveChild(h)
	}
	return nil
}

// RemoveMatching detaches every element matching selector and returns how
// many were removed.
func (t *Tree) RemoveMatching(selector string) (int, error) {
	sel, err := compileCached(selector)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, n := range QueryAll(t.doc, sel) {
		// An ancestor may already have been removed along with n.
		if n.Parent != nil && t.attached(n) {
			n.Parent.RemoveChild(n)
			removed++
		}
	}
	return removed, nil
}

// HTML renders the whole document.
func (t *Tree) HTML() (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, t.doc); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return buf.String(), nil
}

func (t *Tree) notify(added []Node) {
	t.subMu.Lock()
	fns := make([]func([]Node), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.Unlock()
	for _, fn := range fns {
		fn(added)
	}
}

func (t *Tree) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == t.doc {
			return true
		}
	}
	return false
}

func (t *Tree) wrap(n *html.Node) Node { return &treeNode{t: t, n: n} }

func (t *Tree) wrapAll(ns []*html.Node) []Node {
	out := make([]Node, len(ns))
	for i, n := range ns {
		out[i] = t.wrap(n)
	}
	return out
}

func (t *Tree) unwrap(n Node) (*html.Node, error) {
	tn, ok := n.(*treeNode)
	if !ok || tn.t != t {
		return nil, ErrForeignNode
	}
	return tn.n, nil
}

type treeNode struct {
	t *Tree
	n *html.Node
}

func (tn *treeNode) Key() (string, error) {
	tn.t.mu.Lock()
	defer tn.t.mu.Unlock()
	if v, ok := lookupAttr(tn.n, KeyAttr); ok && v != "" {
		return v, nil
	}
	k := tn.t.newKey()
	tn.n.Attr = append(tn.n.Attr, html.Attribute{Key: KeyAttr, Val: k})
	return k, nil
}

func (tn *treeNode) Matches(selector string) (bool, error) {
	sel, err := compileCached(selector)
	if err != nil {
		return false, err
	}
	tn.t.mu.RLock()
	defer tn.t.mu.RUnlock()
	return sel.Match(tn.n), nil
}

func (tn *treeNode) Closest(selector string) (Node, error) {
	sel, err := compileCached(selector)
	if err != nil {
		return nil, err
	}
	tn.t.mu.RLock()
	defer tn.t.mu.RUnlock()
	if c := Closest(tn.n, sel); c != nil {
		return tn.t.wrap(c), nil
	}
	return nil, nil
}

func (tn *treeNode) QueryAll(selector string) ([]Node, error) {
	sel, err := compileCached(selector)
	if err != nil {
		return nil, err
	}
	tn.t.mu.RLock()
	defer tn.t.mu.RUnlock()
	return tn.t.wrapAll(QueryAll(tn.n, sel)), nil
}

func (tn *treeNode) OuterHTML() (string, error) {
	tn.t.mu.RLock()
	defer tn.t.mu.RUnlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, tn.n); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return buf.String(), nil
}

var selectorCache sync.Map // string -> Selector

func compileCached(s string) (Selector, error) {
	if v, ok := selectorCache.Load(s); ok {
		return v.(Selector), nil
	}
	sel, err := Compile(s)
	if err != nil {
		return Selector{}, err
	}
	selectorCache.Store(s, sel)
	return sel, nil
}
