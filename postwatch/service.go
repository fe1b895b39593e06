// Package postwatch finds posts in a social feed as they appear, counts each
// distinct post once in a persistent ledger and marks it in the page.
//
// A Service owns the shared state (SQLite ledger, session flag, broadcast
// bus, sinks, optional classifier). Each watched document is an Instance
// attached to the Service; a document is anything implementing the dom
// interfaces, either a live Chrome tab or an in-memory dom.Tree.
package postwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/fakezero/dbopen"
	"github.com/hazyhaar/fakezero/idgen"
	"github.com/hazyhaar/fakezero/observability"
	"github.com/hazyhaar/fakezero/postwatch/annotate"
	"github.com/hazyhaar/fakezero/postwatch/classify"
	"github.com/hazyhaar/fakezero/postwatch/internal/browser"
	"github.com/hazyhaar/fakezero/postwatch/internal/pipeline"
	"github.com/hazyhaar/fakezero/postwatch/internal/sink"
	"github.com/hazyhaar/fakezero/postwatch/ledger"
	"github.com/hazyhaar/fakezero/postwatch/state"
)

var (
	// ErrUnknownPage is returned for a page id with no attached instance.
	ErrUnknownPage = errors.New("postwatch: unknown page")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("postwatch: closed")
	// ErrDuplicatePage is returned when attaching a page id twice.
	ErrDuplicatePage = errors.New("postwatch: page already attached")
)

// Options wires a Service. Only Config is required.
type Options struct {
	Config *Config
	// DB overrides Config.DBPath. The caller keeps ownership.
	DB     *sql.DB
	Logger *slog.Logger
	// Classifier overrides the one described by Config.Classifier.
	Classifier classify.Classifier
	// Stdout receives the stdout sink. Default: os.Stdout.
	Stdout io.Writer
	// OnDetection, when set, receives every detection synchronously.
	OnDetection func(ctx context.Context, d Detection) error
}

// Service is the top-level orchestrator.
type Service struct {
	cfg     *Config
	db      *sql.DB
	ownDB   bool
	logger  *slog.Logger
	store   *state.Store
	bus     *state.Bus
	ledger  *ledger.Ledger
	events  *observability.EventLogger
	metrics *observability.Metrics
	pool    *classify.Pool
	async   *sink.Async
	sinks   sink.Sink
	md      *sink.Markdown

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	instances map[string]*attached
	mgr       *browser.Manager
	closed    bool
}

type attached struct {
	inst    *Instance
	url     string
	unsub   func()
	cleanup func()
}

// New opens the database and builds the shared components.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, ownDB := opts.DB, false
	if db == nil {
		var err error
		db, err = dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
		if err != nil {
			return nil, fmt.Errorf("postwatch: open db: %w", err)
		}
		ownDB = true
	}
	fail := func(err error) (*Service, error) {
		if ownDB {
			db.Close()
		}
		return nil, err
	}

	if err := observability.Init(db); err != nil {
		return fail(fmt.Errorf("postwatch: %w", err))
	}
	led, err := ledger.Open(db)
	if err != nil {
		return fail(err)
	}
	store, err := state.OpenStore(db, logger)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:       cfg,
		db:        db,
		ownDB:     ownDB,
		logger:    logger,
		store:     store,
		bus:       state.NewBus(),
		ledger:    led,
		events:    observability.NewEventLogger(db, observability.WithLogger(logger)),
		metrics:   observability.NewMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*attached),
	}

	c := opts.Classifier
	if c == nil && cfg.Classifier.Provider != "" {
		c, err = newClassifier(cfg.Classifier, logger)
		if err != nil {
			cancel()
			return fail(err)
		}
	}
	if c != nil {
		s.pool = classify.NewPool(c, classify.PoolOptions{
			RatePerMinute: cfg.Classifier.RatePerMinute,
			MaxInFlight:   cfg.Classifier.MaxInFlight,
		})
	}

	s.sinks = s.buildSinks(opts)
	if cfg.Markdown {
		s.md = sink.NewMarkdown()
	}
	return s, nil
}

func newClassifier(cc ClassifierConfig, logger *slog.Logger) (classify.Classifier, error) {
	switch cc.Provider {
	case "openai":
		return classify.NewOpenAI(classify.OpenAIConfig{
			APIKey:  os.Getenv(cc.APIKeyEnv),
			Model:   cc.Model,
			BaseURL: cc.BaseURL,
		}, logger)
	default:
		return nil, fmt.Errorf("postwatch: unknown classifier provider %q", cc.Provider)
	}
}

// buildSinks routes configured outputs through an async queue; the
// in-process callback stays synchronous.
func (s *Service) buildSinks(opts Options) sink.Sink {
	var outs []sink.Sink
	for _, sc := range s.cfg.Sinks {
		switch sc.Type {
		case "stdout":
			w := opts.Stdout
			if w == nil {
				w = os.Stdout
			}
			outs = append(outs, sink.NewStdout(w))
		case "webhook":
			outs = append(outs, sink.NewWebhook(sc.URL, sink.WithWebhookLogger(s.logger)))
		}
	}

	var all []sink.Sink
	if len(outs) > 0 {
		s.async = sink.NewAsync(sink.NewRouter(s.logger, outs...), 256, s.logger)
		all = append(all, s.async)
	}
	if opts.OnDetection != nil {
		all = append(all, sink.NewCallback(opts.OnDetection))
	}
	if len(all) == 0 {
		return nil
	}
	return sink.NewRouter(s.logger, all...)
}

// Start watches the persisted flag for writes from other processes and
// opens every configured page in Chrome.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.store.Watch(s.ctx, s.cfg.StatePoll.Interval, s.broadcastLocal)
	}()
	if days := s.cfg.Events.RetentionDays; days > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pruneEvents(days, s.cfg.Events.CleanupInterval)
		}()
	}
	s.logger.Info("postwatch: started",
		"pages", len(s.cfg.Pages),
		"warning", annotate.PlainText(annotate.SanitizeMessage(s.cfg.Annotation.Message)))

	if len(s.cfg.Pages) == 0 {
		return nil
	}
	return s.startBrowser(ctx)
}

// pruneEvents drops events older than days, once now and then every
// interval until Close.
func (s *Service) pruneEvents(days int, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := observability.Cleanup(s.ctx, s.db, days); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("postwatch: prune events", "error", err)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Attach starts an instance for a document. The persisted flag decides
// whether the first session starts enabled.
func (s *Service) Attach(ctx context.Context, pageID, pageURL string, host Host) (*Instance, error) {
	return s.attach(ctx, pageID, pageURL, host, nil)
}

func (s *Service) attach(ctx context.Context, pageID, pageURL string, host Host, cleanup func()) (*Instance, error) {
	if host.Document == nil || host.Mutations == nil || host.Viewport == nil {
		return nil, fmt.Errorf("postwatch: attach %s: document, mutations and viewport are required", pageID)
	}
	if pageID == "" {
		pageID = idgen.Prefixed("page_", idgen.Default)()
	}

	enabled, err := s.store.Enabled(ctx)
	if err != nil {
		s.logger.Warn("postwatch: read session flag failed, assuming enabled", "error", err)
		enabled = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, dup := s.instances[pageID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePage, pageID)
	}

	inst := newInstance(pageID, pageURL, host, instanceDeps{
		pipeline: pipeline.Config{
			Ledger:     s.ledger,
			Classifier: s.pool,
			Sink:       s.sinks,
			Markdown:   s.md,
			Events:     s.events,
		},
		marginBottom: s.cfg.Viewport.MarginBottom,
		metrics:      s.metrics,
		logger:       s.logger,
	})

	updates, unsub, err := s.bus.Subscribe(16)
	if err != nil {
		return nil, fmt.Errorf("postwatch: subscribe: %w", err)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for u := range updates {
			inst.Apply(u.Enabled)
		}
	}()

	inst.start(enabled)
	s.instances[pageID] = &attached{inst: inst, url: pageURL, unsub: unsub, cleanup: cleanup}
	return inst, nil
}

// Detach stops the instance for pageID.
func (s *Service) Detach(pageID string) error {
	s.mu.Lock()
	a, ok := s.instances[pageID]
	delete(s.instances, pageID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
	}
	a.stop()
	return nil
}

func (a *attached) stop() {
	a.unsub()
	a.inst.Close()
	if a.cleanup != nil {
		a.cleanup()
	}
}

// Instance returns the instance attached as pageID.
func (s *Service) Instance(pageID string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.instances[pageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, pageID)
	}
	return a.inst, nil
}

// SetEnabled persists the flag and broadcasts it to every instance.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	if err := s.store.SetEnabled(ctx, enabled); err != nil {
		return err
	}
	n := s.bus.Publish(state.NewUpdate(enabled))
	s.logger.Info("postwatch: session flag set", "enabled", enabled, "delivered", n)
	return nil
}

// Enabled returns the persisted flag.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	return s.store.Enabled(ctx)
}

// ForceRescan runs a fresh full scan on pageID without changing the flag.
func (s *Service) ForceRescan(ctx context.Context, pageID string) (ScanResult, error) {
	inst, err := s.Instance(pageID)
	if err != nil {
		return ScanResult{}, err
	}
	return inst.ForceRescan(ctx)
}

// PageInfo describes one attached page.
type PageInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Platform string `json:"platform"`
	Enabled  bool   `json:"enabled"`
}

// Stats is the command-surface summary.
type Stats struct {
	Enabled bool `json:"enabled"`
	ledger.Stats
	Pages       []PageInfo     `json:"pages"`
	Errors      map[string]int `json:"errors_by_stage"`
	Bus         state.BusStats `json:"bus"`
	SinkDropped uint64         `json:"sink_dropped"`
}

var errorStages = []string{
	observability.StageExtract,
	observability.StageLedger,
	observability.StageAnnotate,
	observability.StageClassify,
	observability.StageSink,
}

// Stats returns the ledger summary with the attached pages. recent bounds
// the list of latest detections.
func (s *Service) Stats(ctx context.Context, recent int) (Stats, error) {
	ls, err := s.ledger.Stats(ctx, recent)
	if err != nil {
		return Stats{}, err
	}
	enabled, err := s.store.Enabled(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		Enabled: enabled,
		Stats:   ls,
		Pages:   []PageInfo{},
		Errors:  make(map[string]int, len(errorStages)),
		Bus:     s.bus.Stats(),
	}

	s.mu.Lock()
	for id, a := range s.instances {
		out.Pages = append(out.Pages, PageInfo{
			ID:       id,
			URL:      a.url,
			Platform: a.inst.Platform().Kind.String(),
			Enabled:  a.inst.Enabled(),
		})
	}
	s.mu.Unlock()
	slices.SortFunc(out.Pages, func(a, b PageInfo) int { return strings.Compare(a.ID, b.ID) })

	for _, stage := range errorStages {
		n, err := s.events.CountByStage(ctx, stage)
		if err != nil {
			return Stats{}, err
		}
		out.Errors[stage] = n
	}
	if s.async != nil {
		out.SinkDropped = s.async.Dropped()
	}
	return out, nil
}

// ResetLedger forgets every counted fingerprint.
func (s *Service) ResetLedger(ctx context.Context) error {
	if err := s.ledger.Reset(ctx); err != nil {
		return err
	}
	s.logger.Info("postwatch: ledger reset")
	return nil
}

// Metrics exposes the Prometheus counters.
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

// Close stops every instance, drains sinks and closes the database if the
// Service opened it.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	all := s.instances
	s.instances = make(map[string]*attached)
	mgr := s.mgr
	s.mu.Unlock()

	for _, a := range all {
		a.stop()
	}
	s.cancel()
	s.bus.Close()
	s.wg.Wait()
	if s.pool != nil {
		s.pool.Wait()
	}
	if s.sinks != nil {
		if err := s.sinks.Close(); err != nil {
			s.logger.Warn("postwatch: close sinks", "error", err)
		}
	}
	if mgr != nil {
		if err := mgr.Close(); err != nil {
			s.logger.Warn("postwatch: close browser", "error", err)
		}
	}
	if s.ownDB {
		return s.db.Close()
	}
	return nil
}

// broadcastLocal applies a flag written by another process.
func (s *Service) broadcastLocal(enabled bool) {
	s.mu.Lock()
	insts := make([]*Instance, 0, len(s.instances))
	for _, a := range s.instances {
		insts = append(insts, a.inst)
	}
	s.mu.Unlock()
	for _, inst := range insts {
		inst.Apply(enabled)
	}
}
