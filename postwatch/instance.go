package postwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/fakezero/observability"
	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/dom"
	"github.com/hazyhaar/fakezero/postwatch/internal/discover"
	"github.com/hazyhaar/fakezero/postwatch/internal/pipeline"
	"github.com/hazyhaar/fakezero/postwatch/internal/schedule"
	"github.com/hazyhaar/fakezero/postwatch/platform"
)

// Host is the document an Instance watches and the surfaces it acts on.
type Host struct {
	// Origin selects the platform profile. Empty uses Document.Origin().
	Origin    string
	Document  dom.Document
	Mutations dom.MutationSource
	Viewport  dom.Viewport
	Annotator annotate.Annotator
}

// ScanResult reports one full scan.
type ScanResult struct {
	NewDetections int `json:"new_detections"`
}

// event is a unit of work for the instance loop. Events stamped with a
// session epoch are dropped once that session has been torn down; epoch 0
// always runs.
type event struct {
	epoch uint64
	fn    func()
}

// queue is unbounded so that posting never blocks, including from code
// already running on the loop (an annotation inserts nodes, which the
// mutation source reports synchronously).
type queue struct {
	mu     sync.Mutex
	items  []event
	closed bool
	signal chan struct{}
}

func newQueue() *queue { return &queue{signal: make(chan struct{}, 1)} }

func (q *queue) push(ev event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

// Instance watches one document. All session state is owned by a single
// goroutine; mutation batches, viewport entries, state updates and commands
// reach it as events and run in arrival order.
type Instance struct {
	pageID  string
	pageURL string
	host    Host
	profile platform.Profile
	logger  *slog.Logger
	metrics *observability.Metrics

	disc  *discover.Discoverer
	sched *schedule.Scheduler
	pipe  *pipeline.Pipeline

	q      *queue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Written on the loop only.
	enabled     bool
	unsubscribe func()
	scanNew     int
	lastScan    ScanResult

	epoch atomic.Uint64
	state atomic.Bool
}

type instanceDeps struct {
	pipeline     pipeline.Config
	marginBottom int
	metrics      *observability.Metrics
	logger       *slog.Logger
}

func newInstance(pageID, pageURL string, host Host, deps instanceDeps) *Instance {
	origin := host.Origin
	if origin == "" {
		origin = host.Document.Origin()
	}
	if host.Annotator == nil {
		host.Annotator = annotate.Nop{}
	}
	logger := deps.logger.With("page_id", pageID)
	ctx, cancel := context.WithCancel(context.Background())

	i := &Instance{
		pageID:  pageID,
		pageURL: pageURL,
		host:    host,
		profile: platform.Detect(origin),
		logger:  logger,
		metrics: deps.metrics,
		q:       newQueue(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	enabled := func() bool { return i.enabled }

	i.sched = schedule.New(schedule.Options{
		Viewport:       host.Viewport,
		MarginBottom:   deps.marginBottom,
		EntriesHandler: i.entriesHandler,
		Enabled:        enabled,
		Process:        i.process,
		Logger:         logger,
	})
	i.disc = discover.New(i.profile, i.sched, logger)

	pc := deps.pipeline
	pc.Profile = i.profile
	pc.PageID = pageID
	pc.PageURL = pageURL
	pc.Enabled = enabled
	pc.Annotator = host.Annotator
	pc.Metrics = deps.metrics
	pc.Logger = logger
	i.pipe = pipeline.New(pc)
	return i
}

// start runs the loop and applies the persisted flag.
func (i *Instance) start(enabled bool) {
	go i.run()
	i.logger.Info("postwatch: instance started",
		"platform", i.profile.Kind.String(), "enabled", enabled)
	i.post(0, func() { i.apply(enabled) })
}

func (i *Instance) run() {
	defer close(i.done)
	for {
		select {
		case <-i.ctx.Done():
			i.q.close()
			i.teardown()
			return
		case <-i.q.signal:
			for _, ev := range i.q.drain() {
				if i.ctx.Err() != nil {
					break
				}
				if ev.epoch != 0 && (!i.enabled || ev.epoch != i.epoch.Load()) {
					continue
				}
				ev.fn()
			}
		}
	}
}

func (i *Instance) post(epoch uint64, fn func()) bool {
	return i.q.push(event{epoch: epoch, fn: fn})
}

// do runs fn on the loop and waits for it.
func (i *Instance) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !i.post(0, func() { fn(); close(ran) }) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-i.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

// PageID returns the id the instance was attached under.
func (i *Instance) PageID() string { return i.pageID }

// Platform returns the detected platform profile.
func (i *Instance) Platform() platform.Profile { return i.profile }

// Enabled reports the instance's current session state.
func (i *Instance) Enabled() bool { return i.state.Load() }

// Apply requests a transition to enabled. It never blocks; the transition
// runs on the loop and is a no-op when the state already matches.
func (i *Instance) Apply(enabled bool) {
	i.post(0, func() { i.apply(enabled) })
}

// ForceRescan re-runs the enable logic (fresh session, full scan) without
// touching the persisted flag. A disabled instance reports zero.
func (i *Instance) ForceRescan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	err := i.do(ctx, func() {
		if !i.enabled {
			return
		}
		i.enable()
		res = i.lastScan
	})
	return res, err
}

// LastScan returns the result of the most recent full scan.
func (i *Instance) LastScan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	err := i.do(ctx, func() { res = i.lastScan })
	return res, err
}

// Sync waits until every event queued so far, and every event those events
// queued in turn, has run.
func (i *Instance) Sync(ctx context.Context) error {
	for {
		var idle bool
		if err := i.do(ctx, func() { idle = i.q.len() == 0 }); err != nil {
			return err
		}
		if idle {
			return nil
		}
	}
}

// Close stops the loop. Annotations already in the page are left alone.
func (i *Instance) Close() {
	i.cancel()
	<-i.done
}

func (i *Instance) apply(enabled bool) {
	if enabled == i.enabled {
		return
	}
	if enabled {
		i.enable()
	} else {
		i.disable()
	}
	if m := i.metrics; m != nil {
		to := "disabled"
		if enabled {
			to = "enabled"
		}
		m.Transitions.WithLabelValues(to).Inc()
	}
	i.logger.Info("postwatch: session state changed", "enabled", enabled)
}

// enable starts a fresh session: new epoch, empty marker set, a new
// mutation subscription and a full scan.
func (i *Instance) enable() {
	i.teardown()
	i.enabled = true
	i.state.Store(true)
	i.lastScan = ScanResult{}

	if !i.profile.Supported() {
		i.logger.Info("postwatch: unknown platform, discovery disabled")
		return
	}

	epoch := i.epoch.Load()
	cancel, err := i.host.Mutations.Subscribe(func(added []dom.Node) {
		i.post(epoch, func() { i.onAdded(added) })
	})
	if err != nil {
		i.logger.Warn("postwatch: subscribe failed", "error", err)
	} else {
		i.unsubscribe = cancel
	}
	i.lastScan = ScanResult{NewDetections: i.scan()}
}

// disable stops both subscriptions before touching the page so no event of
// the old session can re-annotate after RemoveAll.
func (i *Instance) disable() {
	i.teardown()
	i.enabled = false
	i.state.Store(false)
	if err := i.host.Annotator.RemoveAll(i.ctx); err != nil {
		i.logger.Warn("postwatch: remove annotations failed", "error", err)
	}
}

func (i *Instance) teardown() {
	if i.unsubscribe != nil {
		i.unsubscribe()
		i.unsubscribe = nil
	}
	i.sched.Reset()
	i.epoch.Add(1)
}

func (i *Instance) scan() int {
	nodes, err := i.host.Document.QueryAll(i.profile.Boundary)
	if err != nil {
		i.logger.Warn("postwatch: scan failed", "error", err)
		return 0
	}
	i.scanNew = 0
	for _, n := range nodes {
		i.sched.Dispatch(i.ctx, n)
	}
	i.logger.Debug("postwatch: scan done", "posts", len(nodes), "new", i.scanNew)
	return i.scanNew
}

func (i *Instance) onAdded(added []dom.Node) {
	n := i.disc.HandleBatch(added)
	if n > 0 && i.metrics != nil {
		i.metrics.Candidates.WithLabelValues(i.profile.Kind.String()).Add(float64(n))
	}
}

// entriesHandler runs on the loop when the scheduler creates an observer.
// The returned callback keeps that session's epoch, so entries from an
// observer outliving its session are dropped by the loop.
func (i *Instance) entriesHandler() func([]dom.Entry) {
	epoch := i.epoch.Load()
	return func(entries []dom.Entry) {
		i.post(epoch, func() { i.sched.HandleEntries(i.ctx, entries) })
	}
}

func (i *Instance) process(ctx context.Context, n dom.Node) {
	if i.pipe.Process(ctx, n).Status == pipeline.StatusCountedNew {
		i.scanNew++
	}
}
