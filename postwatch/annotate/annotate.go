// Package annotate marks detected posts with a warning and removes those
// marks when the session is disabled.
package annotate

import (
	"context"
	"fmt"
	"html"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/fakezero/postwatch/dom"
)

const (
	ContainerClass = "fakezero-warning-container"
	IconClass      = "fakezero-warning-icon"
	TextClass      = "fakezero-warning-text"

	// MarkerSelector matches every element the annotator inserts. Discovery
	// and extraction skip them.
	MarkerSelector = "." + ContainerClass + ", ." + IconClass

	DefaultMessage = "⚠ Warning: This content may contain false information."
)

// Annotator decorates posts. Annotate must be idempotent per post.
type Annotator interface {
	Annotate(ctx context.Context, post dom.Node) error
	RemoveAll(ctx context.Context) error
}

// SanitizeMessage strips anything beyond basic inline formatting from a
// configured warning message.
func SanitizeMessage(message string) string {
	if message == "" {
		message = DefaultMessage
	}
	return bluemonday.UGCPolicy().Sanitize(message)
}

// Markup renders the warning block appended to a post. message must already
// be sanitized.
func Markup(message string) string {
	return fmt.Sprintf(`<div class="%s" style="display:flex;align-items:center;gap:10px;flex-wrap:wrap;width:100%%;padding:5px 0;margin-top:10px">`+
		`<div class="%s" style="width:24px;height:24px;background-color:#FF3B30;border-radius:50%%;display:flex;align-items:center;justify-content:center;color:white;font-size:16px;font-weight:bold">&#9888;</div>`+
		`<span class="%s" style="color:red;font-weight:bold;background-color:#ffefef;padding:5px;border-radius:5px;flex:1">%s</span>`+
		`</div>`,
		ContainerClass, IconClass, TextClass, message)
}

// TreeAnnotator annotates posts of an in-memory dom.Tree.
type TreeAnnotator struct {
	tree   *dom.Tree
	markup string
}

// NewTreeAnnotator creates an annotator for tree. An empty message uses
// DefaultMessage.
func NewTreeAnnotator(tree *dom.Tree, message string) *TreeAnnotator {
	return &TreeAnnotator{tree: tree, markup: Markup(SanitizeMessage(message))}
}

func (a *TreeAnnotator) Annotate(_ context.Context, post dom.Node) error {
	existing, err := post.QueryAll("." + ContainerClass)
	if err != nil {
		return fmt.Errorf("annotate: lookup: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if _, err := a.tree.Append(post, a.markup); err != nil {
		return fmt.Errorf("annotate: append: %w", err)
	}
	return nil
}

func (a *TreeAnnotator) RemoveAll(_ context.Context) error {
	if _, err := a.tree.RemoveMatching("." + IconClass); err != nil {
		return fmt.Errorf("annotate: remove icons: %w", err)
	}
	if _, err := a.tree.RemoveMatching("." + ContainerClass); err != nil {
		return fmt.Errorf("annotate: remove containers: %w", err)
	}
	return nil
}

// Nop discards annotations.
type Nop struct{}

func (Nop) Annotate(context.Context, dom.Node) error { return nil }
func (Nop) RemoveAll(context.Context) error          { return nil }

// PlainText returns message with markup removed, for logs and sinks.
func PlainText(message string) string {
	return html.UnescapeString(bluemonday.StrictPolicy().Sanitize(message))
}
