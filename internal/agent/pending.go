package agent

import (
	"sync"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// PendingCall is one tool invocation waiting for a host decision. Response
// has capacity 1 so the responder never blocks on a worker that already
// gave up waiting.
type PendingCall struct {
	Response  chan protocol.ToolDecision
	SessionID string
	ToolName  string
}

// Pending tracks open approval requests by request id.
type Pending struct {
	mu    sync.Mutex
	calls map[string]*PendingCall
}

func NewPending() *Pending {
	return &Pending{calls: make(map[string]*PendingCall)}
}

// Add registers a pending call under id.
func (p *Pending) Add(id string, call *PendingCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id] = call
}

// Take removes and returns the call for id, claiming the right to answer it.
func (p *Pending) Take(id string) (*PendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if ok {
		delete(p.calls, id)
	}
	return call, ok
}

// Remove drops a call without answering it, used when the waiting worker is
// cancelled.
func (p *Pending) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.calls, id)
}

// AllowAllSessions records sessions whose user approved every ask-level
// tool for the rest of the session. Nothing is persisted; the grant dies
// with the process.
type AllowAllSessions struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func NewAllowAllSessions() *AllowAllSessions {
	return &AllowAllSessions{set: make(map[string]struct{})}
}

func (s *AllowAllSessions) Add(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[sessionID] = struct{}{}
}

func (s *AllowAllSessions) Contains(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[sessionID]
	return ok
}
