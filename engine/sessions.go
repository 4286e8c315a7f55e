package engine

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// CreateSession opens a new consultation. scenario falls back to "labor"
// and title to a dated default inside the store.
func (e *Engine) CreateSession(ctx context.Context, scenario, title string) (protocol.Session, error) {
	sess, err := e.store.CreateSession(ctx, scenario, title)
	if err != nil {
		return protocol.Session{}, err
	}
	e.publish(protocol.EventSessionCreated, "session_id="+sess.ID+",scenario="+sess.Scenario)
	return sess, nil
}

func (e *Engine) GetSession(ctx context.Context, id string) (protocol.Session, error) {
	return e.store.GetSession(ctx, id)
}

func (e *Engine) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	return e.store.ListSessions(ctx)
}

func (e *Engine) UpdateSessionTitle(ctx context.Context, id, title string) error {
	return e.store.UpdateSessionTitle(ctx, id, title)
}

func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	return e.store.DeleteSession(ctx, id)
}

// CreateMessage appends a raw message to a transcript without running the
// agent. toolCalls must be empty or valid JSON.
func (e *Engine) CreateMessage(ctx context.Context, sessionID, role, content, phase, toolCalls string) (protocol.Message, error) {
	if toolCalls != "" {
		var v any
		if err := json.Unmarshal([]byte(toolCalls), &v); err != nil {
			return protocol.Message{}, errdefs.Wrap(errdefs.KindInvalidState, "invalid tool_calls json", err)
		}
	}
	msg, err := e.store.CreateMessage(ctx, sessionID, role, content, phase, toolCalls)
	if err != nil {
		return protocol.Message{}, err
	}
	e.publish(protocol.EventMessageCreated, "session_id="+msg.SessionID+",message_id="+msg.ID)
	return msg, nil
}

func (e *Engine) GetMessages(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	return e.store.GetMessages(ctx, sessionID)
}

func (e *Engine) SetSetting(ctx context.Context, key, value string) error {
	return e.store.SetSetting(ctx, key, value)
}

func (e *Engine) GetSetting(ctx context.Context, key string) (string, bool, error) {
	return e.store.GetSetting(ctx, key)
}

func (e *Engine) SetToolPermission(ctx context.Context, toolName, permission string) error {
	return e.store.SetToolPermission(ctx, toolName, permission)
}

func (e *Engine) GetToolPermission(ctx context.Context, toolName string) (string, error) {
	return e.store.GetToolPermission(ctx, toolName)
}

func (e *Engine) ListToolPermissions(ctx context.Context) ([]protocol.ToolPermission, error) {
	return e.store.ListToolPermissions(ctx)
}

func (e *Engine) AppendLog(ctx context.Context, level, message, sessionID string) (int64, error) {
	return e.store.AppendLog(ctx, level, message, sessionID)
}

func (e *Engine) ListLogs(ctx context.Context, limit int) ([]protocol.LogEntry, error) {
	return e.store.ListLogs(ctx, limit)
}
