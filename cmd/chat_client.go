package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const (
	remoteDialTimeout = 10 * time.Second
	remoteRPCTimeout  = 30 * time.Second
)

// gatewaySession is a synchronous client view of one gateway connection.
// Event frames that arrive while an RPC response is pending are queued and
// replayed by nextEvent, so approval requests raised mid-call are not lost.
type gatewaySession struct {
	conn    *websocket.Conn
	pending []protocol.Event
}

func runChatRemote(cfg *config.Config, remote, sessionID, scenario, message string) {
	chatLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	wsURL, err := normalizeGatewayURL(remote)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := &websocket.DialOptions{}
	if cfg.Gateway.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + cfg.Gateway.Token}}
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, remoteDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, wsURL, opts)
	dialCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to %s: %v\n", wsURL, err)
		os.Exit(1)
	}
	conn.SetReadLimit(1 << 20)
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	gw := &gatewaySession{conn: conn}

	if sessionID == "" {
		var sess protocol.Session
		if err := gw.rpc(ctx, protocol.MethodSessionsCreate, map[string]any{"scenario": scenario}, &sess); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session: %v\n", err)
			os.Exit(1)
		}
		sessionID = sess.ID
	} else {
		var sess protocol.Session
		if err := gw.rpc(ctx, protocol.MethodSessionsGet, map[string]any{"id": sessionID}, &sess); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	gw.pending = gw.pending[:0] // drop the handshake and bookkeeping noise

	if message != "" {
		if err := gw.runTurn(ctx, sessionID, message); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "\ngolaw chat — connected to %s\n", wsURL)
	fmt.Fprintf(os.Stderr, "Session: %s | Scenario: %s\n", sessionID, scenario)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a new session, \"/report\" to rebuild the report\n\n")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch input {
		case "exit", "quit":
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		case "/new":
			var sess protocol.Session
			if err := gw.rpc(ctx, protocol.MethodSessionsCreate, map[string]any{"scenario": scenario}, &sess); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
				continue
			}
			sessionID = sess.ID
			gw.pending = gw.pending[:0]
			fmt.Fprintf(os.Stderr, "New session: %s\n\n", sessionID)
			continue
		case "/report":
			var res struct {
				TaskID string `json:"task_id"`
			}
			if err := gw.rpc(ctx, protocol.MethodReportRegenerate, map[string]any{"session_id": sessionID}, &res); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
				continue
			}
			if err := gw.drainTask(ctx, res.TaskID); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			}
			continue
		}

		if err := gw.runTurn(ctx, sessionID, input); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "\nGoodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		}
	}
}

// runTurn sends one message and renders the event stream until the spawned
// task ends.
func (g *gatewaySession) runTurn(ctx context.Context, sessionID, content string) error {
	var res struct {
		TaskID string `json:"task_id"`
	}
	err := g.rpc(ctx, protocol.MethodMessagesSend, map[string]any{"session_id": sessionID, "content": content}, &res)
	if err != nil {
		return err
	}
	return g.drainTask(ctx, res.TaskID)
}

// drainTask renders events for taskID until a terminal one. An interrupt
// sends agent.cancel and keeps draining on a fresh deadline so the
// cancelled event still lands.
func (g *gatewaySession) drainTask(ctx context.Context, taskID string) error {
	interrupted := false
	for {
		evt, err := g.nextEvent(ctx)
		if err != nil {
			if ctx.Err() == nil || interrupted {
				return err
			}
			interrupted = true
			fmt.Fprintln(os.Stderr, "\nCancelling...")
			cancelCtx, cancel := context.WithTimeout(context.Background(), remoteRPCTimeout)
			defer cancel()
			if rpcErr := g.rpc(cancelCtx, protocol.MethodAgentCancel, map[string]any{"task_id": taskID}, nil); rpcErr != nil {
				return nil // task already finished
			}
			ctx = cancelCtx
			continue
		}

		done, approval, err := renderTaskEvent(taskID, evt)
		if err != nil {
			return err
		}
		if approval != nil {
			if err := g.respondApproval(*approval); err != nil {
				return err
			}
			continue
		}
		if done {
			return nil
		}
	}
}

// respondApproval prompts for a decision and answers via tools.respond. The
// response rides a fresh context so an interrupt cannot strand the worker
// mid-approval.
func (g *gatewaySession) respondApproval(p protocol.ToolCallRequestPayload) error {
	decision, err := promptToolApproval(p)
	if err != nil {
		decision = protocol.ToolDecision{Action: protocol.ToolDeny}
	}

	respondCtx, cancel := context.WithTimeout(context.Background(), remoteRPCTimeout)
	defer cancel()
	return g.rpc(respondCtx, protocol.MethodToolsRespond, map[string]any{
		"request_id": p.RequestID,
		"action":     string(decision.Action),
		"always":     decision.Always,
	}, nil)
}

// rpc performs one synchronous call. result may be nil when the payload
// does not matter. Event frames read while waiting are queued for nextEvent.
func (g *gatewaySession) rpc(ctx context.Context, method string, params any, result any) error {
	id := uuid.NewString()[:8]
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	frame, err := json.Marshal(protocol.Request{Type: protocol.FrameRequest, ID: id, Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := g.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		typ, data, err := g.readFrame(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case protocol.FrameResponse:
			var res protocol.Response
			if err := json.Unmarshal(data, &res); err != nil || res.ID != id {
				continue
			}
			if !res.OK {
				if res.Error != nil {
					return fmt.Errorf("%s: %s", res.Error.Kind, res.Error.Message)
				}
				return fmt.Errorf("%s failed", method)
			}
			if result != nil && len(res.Result) > 0 {
				if err := json.Unmarshal(res.Result, result); err != nil {
					return fmt.Errorf("decode %s result: %w", method, err)
				}
			}
			return nil
		case protocol.FrameEvent:
			var ef protocol.EventFrame
			if err := json.Unmarshal(data, &ef); err == nil {
				g.pending = append(g.pending, ef.Event)
			}
		}
	}
}

// nextEvent returns the next event frame, replaying any queued during RPCs.
func (g *gatewaySession) nextEvent(ctx context.Context) (protocol.Event, error) {
	if len(g.pending) > 0 {
		evt := g.pending[0]
		g.pending = g.pending[1:]
		return evt, nil
	}
	for {
		typ, data, err := g.readFrame(ctx)
		if err != nil {
			return protocol.Event{}, err
		}
		if typ != protocol.FrameEvent {
			continue // stray response, nothing awaits it
		}
		var ef protocol.EventFrame
		if err := json.Unmarshal(data, &ef); err != nil {
			continue
		}
		return ef.Event, nil
	}
}

// readFrame reads one frame and returns its type tag with the raw bytes.
func (g *gatewaySession) readFrame(ctx context.Context) (string, []byte, error) {
	_, data, err := g.conn.Read(ctx)
	if err != nil {
		return "", nil, err
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w", err)
	}
	return env.Type, data, nil
}

// normalizeGatewayURL accepts ws://host:port, wss://host, http(s) URLs or a
// bare host:port and returns the /ws endpoint URL.
func normalizeGatewayURL(remote string) (string, error) {
	if !strings.Contains(remote, "://") {
		remote = "ws://" + remote
	}
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", remote, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
