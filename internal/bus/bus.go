// Package bus provides the per-request event transport between
// callback call-sites and consumers.
//
// One Bus exists per request, so ordering inside a Bus is exactly the
// call order of a single logical thread of control. Cross-request
// interleaving never happens because requests never share a Bus —
// the dispatcher wires a fresh one into every run context.
package bus

import (
	"sync"

	"github.com/ashita-ai/enso/internal/model"
)

// Bus is a thread-safe, append-only event queue with optional live
// fan-out to subscribers. Emit may be called from the request
// goroutine or a sync-bridge worker.
type Bus struct {
	mu     sync.Mutex
	events []model.Event
	subs   map[chan model.Event]struct{}
	tap    func(model.Event)
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[chan model.Event]struct{})}
}

// Emit appends an event and fans it out to live subscribers without
// blocking: a subscriber whose buffer is full misses the live copy
// but can still Drain the complete backlog afterwards. Emit after
// Close is a no-op.
func (b *Bus) Emit(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.events = append(b.events, ev)
	if b.tap != nil {
		b.tap(ev)
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber — drop the live copy.
		}
	}
}

// SetTap registers a synchronous, lossless observer invoked under the
// bus lock for every emitted event. Unlike Subscribe it never drops,
// which makes it the right hook for live trace folding. Must be set
// before the first Emit; the tap must not call back into the bus.
func (b *Bus) SetTap(fn func(model.Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tap = fn
}

// Drain returns a copy of the full ordered backlog. Safe to call
// concurrently with Emit and after Close.
func (b *Bus) Drain() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of events emitted so far.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Subscribe returns a channel that first replays the backlog, then
// receives live events. The channel is closed when the bus closes.
// buffer is extra headroom beyond the current backlog.
func (b *Bus) Subscribe(buffer int) <-chan model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, len(b.events)+buffer)
	for _, ev := range b.events {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. No-op for
// channels not obtained from Subscribe or already closed by Close.
func (b *Bus) Unsubscribe(ch <-chan model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

// Close marks the stream finite: subscriber channels are closed and
// later Emit calls are dropped. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
