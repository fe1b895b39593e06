package browser

import (
	"context"
	"fmt"

	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/dom"
)

// Annotator inserts the warning block into live posts.
type Annotator struct {
	page   *Page
	markup string
}

// NewAnnotator creates an annotator for p. An empty message uses the default.
func NewAnnotator(p *Page, message string) *Annotator {
	return &Annotator{page: p, markup: annotate.Markup(annotate.SanitizeMessage(message))}
}

func (a *Annotator) Annotate(ctx context.Context, post dom.Node) error {
	n, ok := post.(*Node)
	if !ok {
		return dom.ErrForeignNode
	}
	if _, err := n.el.Context(ctx).Eval(`(m) => window.__fakezero.annotate(this, m)`, a.markup); err != nil {
		return fmt.Errorf("browser: annotate: %w", detached(err))
	}
	return nil
}

func (a *Annotator) RemoveAll(ctx context.Context) error {
	if _, err := a.page.tab.Page.Context(ctx).Eval(`() => window.__fakezero.removeAll()`); err != nil {
		return fmt.Errorf("browser: remove annotations: %w", err)
	}
	return nil
}
