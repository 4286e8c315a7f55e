// Package bus fans engine events out to host subscribers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// Handler receives one event. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(protocol.Event)

// Bus is a subscription registry keyed by monotonically increasing ids.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]Handler
}

func New() *Bus {
	return &Bus{handlers: make(map[uint64]Handler)}
}

// Subscribe registers a handler and returns its id, starting at 1.
func (b *Bus) Subscribe(h Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	return id
}

// Unsubscribe removes a handler and reports whether it existed.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return false
	}
	delete(b.handlers, id)
	return true
}

// Publish delivers the event to every current subscriber. The handler set
// is snapshotted first, so handlers may subscribe or unsubscribe reentrantly.
// A panic in one handler is logged and does not reach the others.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.Lock()
	snapshot := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "event", ev.Kind, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
