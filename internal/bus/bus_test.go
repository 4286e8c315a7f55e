package bus

import (
	"sync"
	"testing"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// TestSubscribePublish verifies ordered delivery to a single subscriber and
// id assignment starting at 1.
func TestSubscribePublish(t *testing.T) {
	b := New()
	var got []string
	id := b.Subscribe(func(ev protocol.Event) {
		got = append(got, ev.Kind)
	})
	if id != 1 {
		t.Errorf("first subscription id = %d, want 1", id)
	}

	b.Publish(protocol.NewEvent(protocol.EventAgentPhase, "planning"))
	b.Publish(protocol.NewEvent(protocol.EventCompleted, "done"))

	if len(got) != 2 || got[0] != protocol.EventAgentPhase || got[1] != protocol.EventCompleted {
		t.Errorf("received = %v", got)
	}
}

// TestUnsubscribe verifies removal stops delivery and reports existence.
func TestUnsubscribe(t *testing.T) {
	b := New()
	count := 0
	id := b.Subscribe(func(protocol.Event) { count++ })

	if !b.Unsubscribe(id) {
		t.Error("Unsubscribe returned false for live subscription")
	}
	if b.Unsubscribe(id) {
		t.Error("Unsubscribe returned true for removed subscription")
	}
	if b.Unsubscribe(999) {
		t.Error("Unsubscribe returned true for unknown id")
	}

	b.Publish(protocol.NewEvent(protocol.EventCompleted, ""))
	if count != 0 {
		t.Errorf("handler ran %d times after unsubscribe", count)
	}
}

// TestMultipleSubscribers verifies fan-out.
func TestMultipleSubscribers(t *testing.T) {
	b := New()
	counts := make([]int, 3)
	for i := range counts {
		b.Subscribe(func(protocol.Event) { counts[i]++ })
	}
	b.Publish(protocol.NewEvent(protocol.EventSessionCreated, ""))
	for i, c := range counts {
		if c != 1 {
			t.Errorf("subscriber %d received %d events, want 1", i, c)
		}
	}
}

// TestPanicIsolation verifies one panicking handler does not starve others.
func TestPanicIsolation(t *testing.T) {
	b := New()
	b.Subscribe(func(protocol.Event) { panic("boom") })
	delivered := false
	b.Subscribe(func(protocol.Event) { delivered = true })

	b.Publish(protocol.NewEvent(protocol.EventError, ""))
	if !delivered {
		t.Error("second handler skipped after panic in first")
	}
}

// TestReentrantUnsubscribe verifies a handler may unsubscribe itself while
// an event is being delivered.
func TestReentrantUnsubscribe(t *testing.T) {
	b := New()
	var id uint64
	fired := 0
	id = b.Subscribe(func(protocol.Event) {
		fired++
		b.Unsubscribe(id)
	})

	b.Publish(protocol.NewEvent(protocol.EventCompleted, ""))
	b.Publish(protocol.NewEvent(protocol.EventCompleted, ""))
	if fired != 1 {
		t.Errorf("handler fired %d times, want 1", fired)
	}
}

// TestConcurrentPublish verifies the bus tolerates parallel publishers.
func TestConcurrentPublish(t *testing.T) {
	b := New()
	var mu sync.Mutex
	total := 0
	b.Subscribe(func(protocol.Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(protocol.NewEvent(protocol.EventAgentPhase, "drafting"))
			}
		}()
	}
	wg.Wait()

	if total != 400 {
		t.Errorf("delivered = %d, want 400", total)
	}
}
