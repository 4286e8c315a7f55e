package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Client is one WebSocket connection. Reads happen on the Run goroutine;
// all writes funnel through the send channel so the write pump is the
// only writer on the conn.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	subID  uint64

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Run pumps frames until the connection drops or ctx is done.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("read failed", "id", c.id, "error", err)
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil || req.Type != protocol.FrameRequest {
			c.SendResponse(protocol.NewErrorResponse(req.ID, "invalid_state", "malformed request frame"))
			continue
		}

		if !c.server.rateLimiter.Allow(c.id) {
			c.SendResponse(protocol.NewErrorResponse(req.ID, "timeout", "rate limit exceeded, slow down"))
			continue
		}

		// Dispatch concurrently: a blocking call such as model.ping must
		// not stall approval responses arriving on the same connection.
		go c.server.router.Dispatch(ctx, c, &req)
	}
}

// SendResponse queues an RPC response.
func (c *Client) SendResponse(res protocol.Response) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.server.logger.Error("encode response failed", "id", c.id, "error", err)
		return
	}
	c.enqueue(raw)
}

// SendEvent queues an engine event wrapped in an event frame.
func (c *Client) SendEvent(ev protocol.Event) {
	raw, err := json.Marshal(protocol.EventFrame{Type: protocol.FrameEvent, Event: ev})
	if err != nil {
		c.server.logger.Error("encode event failed", "id", c.id, "error", err)
		return
	}
	c.enqueue(raw)
}

// enqueue drops the frame when the client cannot keep up; a stalled
// consumer must not block the engine's event fan-out.
func (c *Client) enqueue(raw []byte) {
	select {
	case c.send <- raw:
	case <-c.done:
	default:
		c.server.logger.Warn("send buffer full, dropping frame", "id", c.id)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case raw := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.server.logger.Debug("write failed", "id", c.id, "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
