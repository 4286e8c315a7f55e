// Package scheduler serializes agent work per session and tracks
// cancellation flags for running tasks.
package scheduler

import (
	"sync"
	"sync/atomic"
)

// SessionLocks hands out one mutex per session so concurrent sends to the
// same session run strictly one after another, while different sessions
// proceed in parallel.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for sessionID, creating it on first use. Locks are
// never evicted for the lifetime of the process.
func (l *SessionLocks) Get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	return m
}

// Control is the cancellation flag for one task. Workers poll it between
// steps; it never interrupts a step in flight.
type Control struct {
	cancelled atomic.Bool
}

func (c *Control) Cancel() {
	c.cancelled.Store(true)
}

func (c *Control) IsCancelled() bool {
	return c.cancelled.Load()
}

// Controls tracks the Control of every task currently queued or running.
type Controls struct {
	mu    sync.RWMutex
	tasks map[string]*Control
}

func NewControls() *Controls {
	return &Controls{tasks: make(map[string]*Control)}
}

// Register creates and stores a fresh Control for taskID.
func (c *Controls) Register(taskID string) *Control {
	ctl := &Control{}
	c.mu.Lock()
	c.tasks[taskID] = ctl
	c.mu.Unlock()
	return ctl
}

// Get returns the Control for taskID if the task is still tracked.
func (c *Controls) Get(taskID string) (*Control, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctl, ok := c.tasks[taskID]
	return ctl, ok
}

// Remove drops a finished task.
func (c *Controls) Remove(taskID string) {
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
}
