package classify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// PoolOptions bounds classifier load.
type PoolOptions struct {
	RatePerMinute int           // default 20
	MaxInFlight   int           // default 2
	Timeout       time.Duration // per request, default 30s
}

// Pool runs classifications off the caller's goroutine with a rate limit and
// a fixed number of workers. When every worker is busy new requests are
// dropped, not queued.
type Pool struct {
	c       Classifier
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewPool wraps c.
func NewPool(c Classifier, opts PoolOptions) *Pool {
	if opts.RatePerMinute <= 0 {
		opts.RatePerMinute = 20
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	every := time.Minute / time.Duration(opts.RatePerMinute)
	return &Pool{
		c:       c,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		sem:     semaphore.NewWeighted(int64(opts.MaxInFlight)),
		timeout: opts.Timeout,
	}
}

// Submit classifies text in the background and calls done with the result.
// It returns false, without calling done, when the pool is saturated.
func (p *Pool) Submit(ctx context.Context, text string, done func(*Verdict, error)) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		if err := p.limiter.Wait(ctx); err != nil {
			done(nil, err)
			return
		}
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		done(p.classify(cctx, text))
	}()
	return true
}

// classify turns a panicking classifier into an error.
func (p *Pool) classify(ctx context.Context, text string) (v *Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("classify: classifier panicked: %v", r)
		}
	}()
	return p.c.Classify(ctx, text)
}

// Wait blocks until in-flight classifications finish.
func (p *Pool) Wait() { p.wg.Wait() }
