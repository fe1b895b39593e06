// Package schedule gates processing on visibility: a post is processed the
// first time it comes within the near-viewport margin while the session is
// enabled, and never twice in one session.
package schedule

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/fakezero/postwatch/dom"
)

// DefaultMarginBottom is how far below the viewport a post counts as visible.
const DefaultMarginBottom = 200

// Options configures a Scheduler.
type Options struct {
	Viewport     dom.Viewport
	MarginBottom int
	// EntriesHandler is called once per viewport observer; the callback it
	// returns receives that observer's entries. The owner routes them back
	// to HandleEntries on its event loop.
	EntriesHandler func() func([]dom.Entry)
	Enabled   func() bool
	Process   func(ctx context.Context, n dom.Node)
	Logger    *slog.Logger
}

// Scheduler is owned by one event loop and is not safe for concurrent use.
type Scheduler struct {
	opts       Options
	observer   dom.Observer
	marked     map[string]struct{}
	registered map[string]dom.Node
}

func New(opts Options) *Scheduler {
	if opts.MarginBottom <= 0 {
		opts.MarginBottom = DefaultMarginBottom
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Enabled == nil {
		opts.Enabled = func() bool { return true }
	}
	if opts.EntriesHandler == nil {
		opts.EntriesHandler = func() func([]dom.Entry) { return func([]dom.Entry) {} }
	}
	return &Scheduler{
		opts:       opts,
		marked:     make(map[string]struct{}),
		registered: make(map[string]dom.Node),
	}
}

// Register starts observing n unless it is already marked or observed.
// It reports whether n was newly registered.
func (s *Scheduler) Register(n dom.Node) bool {
	key, err := n.Key()
	if err != nil {
		s.opts.Logger.Debug("schedule: key failed", "error", err)
		return false
	}
	if _, done := s.marked[key]; done {
		return false
	}
	if _, dup := s.registered[key]; dup {
		return false
	}
	if s.observer == nil {
		obs, err := s.opts.Viewport.NewObserver(s.opts.MarginBottom, s.opts.EntriesHandler())
		if err != nil {
			s.opts.Logger.Warn("schedule: create observer failed", "error", err)
			return false
		}
		s.observer = obs
	}
	// Record first: an immediate viewport may call back synchronously.
	s.registered[key] = n
	if err := s.observer.Observe(n); err != nil {
		delete(s.registered, key)
		s.opts.Logger.Warn("schedule: observe failed", "error", err)
		return false
	}
	return true
}

// HandleEntries processes each entry that is intersecting, while the session
// is enabled, and whose node is not yet marked.
func (s *Scheduler) HandleEntries(ctx context.Context, entries []dom.Entry) {
	for _, e := range entries {
		if !e.Intersecting {
			continue
		}
		if !s.opts.Enabled() {
			return
		}
		if _, done := s.marked[e.Key]; done {
			continue
		}
		n := e.Node
		if n == nil {
			n = s.registered[e.Key]
		}
		if n == nil {
			continue
		}
		s.mark(e.Key, n)
		s.opts.Process(ctx, n)
	}
}

// Dispatch processes n immediately, bypassing visibility. Used by full
// scans. It reports whether n was processed (false if already marked).
func (s *Scheduler) Dispatch(ctx context.Context, n dom.Node) bool {
	key, err := n.Key()
	if err != nil {
		s.opts.Logger.Debug("schedule: key failed", "error", err)
		return false
	}
	if _, done := s.marked[key]; done {
		return false
	}
	s.mark(key, n)
	s.opts.Process(ctx, n)
	return true
}

// Reset disconnects the viewport observer and forgets every marked and
// registered node.
func (s *Scheduler) Reset() {
	if s.observer != nil {
		s.observer.Disconnect()
		s.observer = nil
	}
	clear(s.marked)
	clear(s.registered)
}

// Marked reports whether the node with key has been processed this session.
// Test hook; must be called from the owning loop.
func (s *Scheduler) Marked(key string) bool {
	_, ok := s.marked[key]
	return ok
}

// Pending returns how many nodes await visibility. Test hook; must be
// called from the owning loop.
func (s *Scheduler) Pending() int { return len(s.registered) }

func (s *Scheduler) mark(key string, n dom.Node) {
	s.marked[key] = struct{}{}
	if _, ok := s.registered[key]; ok {
		delete(s.registered, key)
		if s.observer != nil {
			if err := s.observer.Unobserve(n); err != nil {
				s.opts.Logger.Debug("schedule: unobserve failed", "error", err)
			}
		}
	}
}
