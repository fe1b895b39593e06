package browser

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/fakezero/idgen"
	"github.com/hazyhaar/fakezero/postwatch/dom"
)

// Node is a live element of a Rod page.
type Node struct {
	el *rod.Element

	mu  sync.Mutex
	key string
}

func wrapNode(el *rod.Element) *Node { return &Node{el: el} }

func wrapNodes(els rod.Elements) []dom.Node {
	out := make([]dom.Node, len(els))
	for i, el := range els {
		out[i] = wrapNode(el)
	}
	return out
}

// Key tags the element with data-fz-id on first use. An element already
// tagged by the injected bridge keeps its key.
func (n *Node) Key() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.key != "" {
		return n.key, nil
	}
	res, err := n.el.Eval(`(attr, k) => {
		if (!this.getAttribute(attr)) this.setAttribute(attr, k);
		return this.getAttribute(attr);
	}`, dom.KeyAttr, idgen.ElementTag())
	if err != nil {
		return "", detached(err)
	}
	n.key = res.Value.Str()
	return n.key, nil
}

func (n *Node) Matches(selector string) (bool, error) {
	ok, err := n.el.Matches(selector)
	if err != nil {
		return false, detached(err)
	}
	return ok, nil
}

func (n *Node) Closest(selector string) (dom.Node, error) {
	el, err := n.el.ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, detached(err)
	}
	return wrapNode(el), nil
}

func (n *Node) QueryAll(selector string) ([]dom.Node, error) {
	els, err := n.el.Elements(selector)
	if err != nil {
		return nil, detached(err)
	}
	return wrapNodes(els), nil
}

func (n *Node) OuterHTML() (string, error) {
	s, err := n.el.HTML()
	if err != nil {
		return "", detached(err)
	}
	return s, nil
}

// detached maps Rod's lost-object errors onto dom.ErrDetached.
func detached(err error) error {
	var objErr *rod.ObjectNotFoundError
	if errors.As(err, &objErr) {
		return fmt.Errorf("%w: %v", dom.ErrDetached, err)
	}
	return fmt.Errorf("browser: %w", err)
}
