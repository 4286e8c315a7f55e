package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedSenders caps the map so rotating sender ids cannot grow it
	// without bound.
	maxTrackedSenders = 4096

	throttleWindow  = 60 * time.Second
	throttleMaxHits = 20
)

type throttleEntry struct {
	windowStart time.Time
	count       int
}

// SenderThrottle bounds how many messages one sender may submit per window.
// Chat channels are reachable by anyone who discovers the bot, so each
// incoming message passes through here before it touches the engine.
// Safe for concurrent use.
type SenderThrottle struct {
	mu      sync.Mutex
	entries map[string]throttleEntry
}

func NewSenderThrottle() *SenderThrottle {
	return &SenderThrottle{entries: make(map[string]throttleEntry)}
}

// Allow reports whether the sender is within limits.
func (t *SenderThrottle) Allow(sender string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if len(t.entries) >= maxTrackedSenders {
		t.prune(now)
	}

	e, ok := t.entries[sender]
	if !ok || now.Sub(e.windowStart) >= throttleWindow {
		t.entries[sender] = throttleEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	t.entries[sender] = e
	return e.count <= throttleMaxHits
}

// prune drops expired windows, then evicts arbitrary entries until the map
// is back under the cap.
func (t *SenderThrottle) prune(now time.Time) {
	for k, e := range t.entries {
		if now.Sub(e.windowStart) >= throttleWindow {
			delete(t.entries, k)
		}
	}
	for len(t.entries) >= maxTrackedSenders {
		for k := range t.entries {
			delete(t.entries, k)
			break
		}
	}
}
