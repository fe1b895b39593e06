package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/fakezero/postwatch/dom"
)

//go:embed bridge.js
var bridgeJS string

const bindingName = "__fakezero_binding"

// PageOptions configures a Page.
type PageOptions struct {
	// DebounceWindow coalesces insertion reports. Default: 100ms.
	DebounceWindow time.Duration
	// DebounceMax flushes as soon as this many elements are pending. Default: 500.
	DebounceMax int
	Logger      *slog.Logger
}

func (o *PageOptions) defaults() {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 100 * time.Millisecond
	}
	if o.DebounceMax <= 0 {
		o.DebounceMax = 500
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Page exposes a tab as a dom.Document, dom.MutationSource and dom.Viewport.
// Insertions and intersections are reported by an injected bridge script
// through a Runtime binding.
type Page struct {
	tab    *Tab
	opts   PageOptions
	ctx    context.Context
	cancel context.CancelFunc
	added  chan []string

	mu        sync.Mutex
	subs      map[int]func([]dom.Node)
	nextSub   int
	observers map[string]*observer
	nextObs   int
}

// Bridge injects the bridge script into tab and starts listening for its
// reports. Stop with Close.
func Bridge(ctx context.Context, tab *Tab, opts PageOptions) (*Page, error) {
	opts.defaults()
	ctx, cancel := context.WithCancel(ctx)
	p := &Page{
		tab:       tab,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		added:     make(chan []string, 256),
		subs:      make(map[int]func([]dom.Node)),
		observers: make(map[string]*observer),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(tab.Page); err != nil {
		opts.Logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}
	go p.listenBinding()
	go p.batchLoop()

	if _, err := tab.Page.Context(ctx).Eval(bridgeJS); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: inject bridge: %w", err)
	}
	return p, nil
}

// Close stops listening. The tab itself is left open.
func (p *Page) Close() { p.cancel() }

// Origin returns the URL the tab was opened on.
func (p *Page) Origin() string { return p.tab.PageURL }

func (p *Page) QueryAll(selector string) ([]dom.Node, error) {
	els, err := p.tab.Page.Context(p.ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	return wrapNodes(els), nil
}

// Subscribe starts the page's MutationObserver on first use.
func (p *Page) Subscribe(fn func(added []dom.Node)) (func(), error) {
	p.mu.Lock()
	first := len(p.subs) == 0
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	if first {
		if _, err := p.tab.Page.Context(p.ctx).Eval(`() => window.__fakezero.subscribe()`); err != nil {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			return nil, fmt.Errorf("browser: subscribe: %w", err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			last := len(p.subs) == 0
			p.mu.Unlock()
			if last {
				if _, err := p.tab.Page.Context(p.ctx).Eval(`() => window.__fakezero.unsubscribe()`); err != nil {
					p.opts.Logger.Debug("browser: unsubscribe failed", "error", err)
				}
			}
		})
	}, nil
}

// NewObserver creates an IntersectionObserver in the page with the given
// bottom root margin.
func (p *Page) NewObserver(marginBottom int, fn func([]dom.Entry)) (dom.Observer, error) {
	p.mu.Lock()
	p.nextObs++
	id := "o" + strconv.Itoa(p.nextObs)
	o := &observer{page: p, id: id, fn: fn}
	p.observers[id] = o
	p.mu.Unlock()

	if _, err := p.tab.Page.Context(p.ctx).Eval(`(id, m) => window.__fakezero.observer(id, m)`, id, marginBottom); err != nil {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("browser: create observer: %w", err)
	}
	return o, nil
}

type bridgeMsg struct {
	Kind     string   `json:"kind"`
	IDs      []string `json:"ids"`
	Observer string   `json:"observer"`
	Entries  []struct {
		ID           string `json:"id"`
		Intersecting bool   `json:"intersecting"`
	} `json:"entries"`
}

// listenBinding receives bridge reports via Runtime.bindingCalled.
func (p *Page) listenBinding() {
	p.tab.Page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var msg bridgeMsg
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			p.opts.Logger.Warn("browser: parse binding payload", "error", err)
			return
		}
		switch msg.Kind {
		case "added":
			select {
			case p.added <- msg.IDs:
			case <-p.ctx.Done():
			}
		case "entries":
			p.mu.Lock()
			o := p.observers[msg.Observer]
			p.mu.Unlock()
			if o == nil {
				return
			}
			entries := make([]dom.Entry, 0, len(msg.Entries))
			for _, e := range msg.Entries {
				entries = append(entries, dom.Entry{Key: e.ID, Intersecting: e.Intersecting})
			}
			o.deliver(entries)
		}
	})()
}

// batchLoop coalesces insertion reports: a burst of feed items arrives as
// many small MutationObserver callbacks.
func (p *Page) batchLoop() {
	var (
		pending []string
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		ids := pending
		pending = nil
		p.publish(ids)
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case ids := <-p.added:
			pending = append(pending, ids...)
			if len(pending) >= p.opts.DebounceMax {
				flush()
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(p.opts.DebounceWindow)
			timerC = timer.C
		case <-timerC:
			flush()
		}
	}
}

// publish resolves tagged ids to elements and hands them to subscribers.
func (p *Page) publish(ids []string) {
	nodes := make([]dom.Node, 0, len(ids))
	for chunk := range chunks(dedupe(ids), 100) {
		sel := make([]string, len(chunk))
		for i, id := range chunk {
			sel[i] = `[` + dom.KeyAttr + `="` + id + `"]`
		}
		els, err := p.tab.Page.Context(p.ctx).Elements(strings.Join(sel, ","))
		if err != nil {
			p.opts.Logger.Debug("browser: resolve inserted nodes", "error", err)
			continue
		}
		nodes = append(nodes, wrapNodes(els)...)
	}
	if len(nodes) == 0 {
		return
	}

	p.mu.Lock()
	fns := make([]func([]dom.Node), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(nodes)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func chunks(ids []string, size int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for len(ids) > 0 {
			n := min(size, len(ids))
			if !yield(ids[:n]) {
				return
			}
			ids = ids[n:]
		}
	}
}

type observer struct {
	page *Page
	id   string
	fn   func([]dom.Entry)

	mu  sync.Mutex
	off bool
}

func (o *observer) deliver(entries []dom.Entry) {
	o.mu.Lock()
	off := o.off
	o.mu.Unlock()
	if !off && len(entries) > 0 {
		o.fn(entries)
	}
}

func (o *observer) Observe(n dom.Node) error {
	return o.call(n, `(id) => window.__fakezero.observe(id, this)`)
}

func (o *observer) Unobserve(n dom.Node) error {
	return o.call(n, `(id) => window.__fakezero.unobserve(id, this)`)
}

func (o *observer) call(n dom.Node, js string) error {
	bn, ok := n.(*Node)
	if !ok {
		return dom.ErrForeignNode
	}
	if _, err := bn.Key(); err != nil {
		return err
	}
	if _, err := bn.el.Eval(js, o.id); err != nil {
		return detached(err)
	}
	return nil
}

func (o *observer) Disconnect() {
	o.mu.Lock()
	if o.off {
		o.mu.Unlock()
		return
	}
	o.off = true
	o.mu.Unlock()

	o.page.mu.Lock()
	delete(o.page.observers, o.id)
	o.page.mu.Unlock()
	if _, err := o.page.tab.Page.Context(o.page.ctx).Eval(`(id) => window.__fakezero.disconnect(id)`, o.id); err != nil {
		o.page.opts.Logger.Debug("browser: disconnect observer failed", "error", err)
	}
}
