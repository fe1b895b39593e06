package sink

import "context"

// Func is called for each detection, in process.
type Func func(ctx context.Context, d Detection) error

// Callback delivers detections via a Go function call.
type Callback struct{ fn Func }

func NewCallback(fn Func) *Callback { return &Callback{fn: fn} }

func (c *Callback) Send(ctx context.Context, d Detection) error {
	if c.fn != nil {
		return c.fn(ctx, d)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
