// Package event provides the process-wide publish/subscribe channel that
// distributes domain change notifications to observers.
package event

import (
	"sync"
	"time"

	"github.com/versekeep/versekeep/internal/domain"
)

const defaultBuffer = 64

// Bus is a multi-subscriber stream of domain events. Publish is non-blocking
// and fire-and-forget: with no subscribers an event is dropped, and a
// subscriber that falls behind its channel buffer loses events rather than
// stalling the publisher. Each subscriber receives events from the time of
// subscription onward, in publish order. There is no replay.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	buffer int
	closed bool
}

// NewBus creates an event bus with the default per-subscriber buffer.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan domain.Event), buffer: defaultBuffer}
}

// Subscribe registers an observer. The returned cancel func must be called
// when the observer is done; it closes the channel.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber without blocking.
func (b *Bus) Publish(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // Non-blocking if subscriber is full
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
