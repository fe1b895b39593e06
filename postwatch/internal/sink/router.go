package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Router fans detections out to all sinks. One sink error does not block
// the others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Send(ctx context.Context, d Detection) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, d); err != nil {
			r.logger.Warn("sink: send failed", "error", err, "fingerprint", d.Fingerprint)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Async moves delivery to a background goroutine so slow sinks never stall
// the detection loop. When the queue is full, detections are dropped.
type Async struct {
	next    Sink
	queue   chan Detection
	logger  *slog.Logger
	dropped atomic.Uint64
	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
}

// NewAsync wraps next with a queue of the given size.
func NewAsync(next Sink, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:   next,
		queue:  make(chan Detection, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for d := range a.queue {
		if err := a.next.Send(context.Background(), d); err != nil {
			a.logger.Warn("sink: async delivery failed", "error", err, "fingerprint", d.Fingerprint)
		}
	}
}

// Send enqueues d. It returns nil even when d is dropped.
func (a *Async) Send(_ context.Context, d Detection) error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- d:
	default:
		a.dropped.Add(1)
		a.logger.Warn("sink: queue full, detection dropped", "fingerprint", d.Fingerprint)
	}
	return nil
}

// Dropped returns how many detections were shed.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Close drains the queue and closes the wrapped sink.
func (a *Async) Close() error {
	a.closeMu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.closeMu.Unlock()
	<-a.done
	return a.next.Close()
}
