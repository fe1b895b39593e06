package dom

import "sync"

// ImmediateViewport reports every observed node as visible at once. The
// offline scanner uses it: a saved page has no scroll position.
type ImmediateViewport struct{}

func (ImmediateViewport) NewObserver(_ int, fn func([]Entry)) (Observer, error) {
	return &immediateObserver{fn: fn}, nil
}

type immediateObserver struct {
	mu           sync.Mutex
	disconnected bool
	fn           func([]Entry)
}

func (o *immediateObserver) Observe(n Node) error {
	key, err := n.Key()
	if err != nil {
		return err
	}
	o.mu.Lock()
	off := o.disconnected
	o.mu.Unlock()
	if !off {
		o.fn([]Entry{{Key: key, Node: n, Intersecting: true}})
	}
	return nil
}

func (o *immediateObserver) Unobserve(Node) error { return nil }

func (o *immediateObserver) Disconnect() {
	o.mu.Lock()
	o.disconnected = true
	o.mu.Unlock()
}

// ManualViewport lets the caller decide when nodes become visible.
type ManualViewport struct {
	mu        sync.Mutex
	observers []*manualObserver
	margin    int
}

func (v *ManualViewport) NewObserver(marginBottom int, fn func([]Entry)) (Observer, error) {
	o := &manualObserver{fn: fn, observed: make(map[string]Node)}
	v.mu.Lock()
	v.observers = append(v.observers, o)
	v.margin = marginBottom
	v.mu.Unlock()
	return o, nil
}

// Show reports nodes as intersecting to every live observer watching them.
func (v *ManualViewport) Show(nodes ...Node) { v.deliver(true, nodes) }

// Hide reports nodes as no longer intersecting.
func (v *ManualViewport) Hide(nodes ...Node) { v.deliver(false, nodes) }

// Watching returns how many nodes live observers are tracking.
func (v *ManualViewport) Watching() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	total := 0
	for _, o := range v.observers {
		o.mu.Lock()
		if !o.disconnected {
			total += len(o.observed)
		}
		o.mu.Unlock()
	}
	return total
}

// Margin returns the bottom margin requested by the last observer.
func (v *ManualViewport) Margin() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.margin
}

func (v *ManualViewport) deliver(visible bool, nodes []Node) {
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if k, err := n.Key(); err == nil {
			keys = append(keys, k)
		}
	}
	v.mu.Lock()
	obs := append([]*manualObserver(nil), v.observers...)
	v.mu.Unlock()

	for _, o := range obs {
		var entries []Entry
		o.mu.Lock()
		if !o.disconnected {
			for _, k := range keys {
				if n, ok := o.observed[k]; ok {
					entries = append(entries, Entry{Key: k, Node: n, Intersecting: visible})
				}
			}
		}
		o.mu.Unlock()
		if len(entries) > 0 {
			o.fn(entries)
		}
	}
}

type manualObserver struct {
	mu           sync.Mutex
	disconnected bool
	observed     map[string]Node
	fn           func([]Entry)
}

func (o *manualObserver) Observe(n Node) error {
	k, err := n.Key()
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.disconnected {
		o.observed[k] = n
	}
	return nil
}

func (o *manualObserver) Unobserve(n Node) error {
	k, err := n.Key()
	if err != nil {
		return err
	}
	o.mu.Lock()
	delete(o.observed, k)
	o.mu.Unlock()
	return nil
}

func (o *manualObserver) Disconnect() {
	o.mu.Lock()
	o.disconnected = true
	o.observed = make(map[string]Node)
	o.mu.Unlock()
}
