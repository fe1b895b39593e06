package state

import (
	"errors"
	"sync"
	"sync/atomic"
)

// UpdateType tags session state messages.
const UpdateType = "SESSION_STATE_UPDATE"

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("state: bus closed")

// Update is the broadcast message announcing a flag change.
type Update struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// NewUpdate builds a SESSION_STATE_UPDATE message.
func NewUpdate(enabled bool) Update { return Update{Type: UpdateType, Enabled: enabled} }

// Bus fans updates out to subscribers without blocking. A subscriber whose
// channel is full misses the update; it converges through the store watcher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Update
	nextID int
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Update)}
}

// Subscribe returns a channel with the given buffer and a function that
// unsubscribes and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Update, func(), error) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Update, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}, nil
}

// Publish delivers u to every subscriber with room and returns how many got
// it. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(u Update) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	b.published.Add(1)
	sent := 0
	for _, ch := range b.subs {
		select {
		case ch <- u:
			sent++
		default:
			b.dropped.Add(1)
		}
	}
	return sent
}

// BusStats are cumulative counters.
type BusStats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
