package gateway

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// HandlerFunc handles one RPC request. Handlers reply through
// client.SendResponse; returning without replying leaves the request
// dangling, so every path must answer.
type HandlerFunc func(ctx context.Context, client *Client, req *protocol.Request)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewMethodRouter() *MethodRouter {
	return &MethodRouter{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces the handler for a method.
func (r *MethodRouter) Register(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = h
}

// Dispatch routes req to its handler. Unknown methods get a not_found
// error response; a panicking handler answers with unknown instead of
// killing the connection.
func (r *MethodRouter) Dispatch(ctx context.Context, client *Client, req *protocol.Request) {
	r.mu.RLock()
	h, ok := r.handlers[req.Method]
	r.mu.RUnlock()

	if !ok {
		client.SendResponse(protocol.NewErrorResponse(req.ID, "not_found", "unknown method: "+req.Method))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			client.server.logger.Error("method handler panicked", "method", req.Method, "panic", rec)
			client.SendResponse(protocol.NewErrorResponse(req.ID, "unknown", "internal handler failure"))
		}
	}()
	h(ctx, client, req)
}
