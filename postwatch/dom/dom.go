// Package dom is the contract between the detection core and the document it
// watches. A live browser tab and the in-memory Tree both implement it, so the
// pipeline runs unchanged against either.
package dom

import "errors"

// KeyAttr is the attribute carrying a node's opaque key once it has been seen.
const KeyAttr = "data-fz-id"

var (
	// ErrDetached is returned for operations on a node no longer in its document.
	ErrDetached = errors.New("dom: node detached")
	// ErrForeignNode is returned when a node from another document is passed in.
	ErrForeignNode = errors.New("dom: node belongs to another document")
)

// Node is a borrowed handle to one element. Implementations must not
// reorder or re-create the element behind it.
type Node interface {
	// Key returns a stable opaque identifier, attaching one on first call.
	Key() (string, error)
	Matches(selector string) (bool, error)
	// Closest returns the nearest inclusive ancestor matching selector, or
	// nil when there is none.
	Closest(selector string) (Node, error)
	// QueryAll returns matching descendants in document order.
	QueryAll(selector string) ([]Node, error)
	OuterHTML() (string, error)
}

// Document is the page being watched.
type Document interface {
	Origin() string
	QueryAll(selector string) ([]Node, error)
}

// MutationSource reports element insertions. fn receives the top-level
// elements of each insertion batch. Removals are not reported.
type MutationSource interface {
	Subscribe(fn func(added []Node)) (cancel func(), err error)
}

// Entry is one visibility change.
type Entry struct {
	Key          string
	Node         Node
	Intersecting bool
}

// Observer tracks a set of nodes against the viewport.
type Observer interface {
	Observe(n Node) error
	Unobserve(n Node) error
	Disconnect()
}

// Viewport creates visibility observers. marginBottom extends the viewport
// downward so posts about to scroll in count as visible.
type Viewport interface {
	NewObserver(marginBottom int, fn func([]Entry)) (Observer, error)
}
