package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/golaw/internal/agent"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// SendMessage persists the user's message and starts an agent task for
// the session. It returns the task id immediately; progress and the
// final report arrive as events. Tasks for the same session run one at
// a time, tasks for different sessions run concurrently.
func (e *Engine) SendMessage(ctx context.Context, sessionID, content string) (string, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if _, err := e.store.CreateMessage(ctx, sessionID, protocol.RoleUser, content, protocol.PhasePlan, ""); err != nil {
		return "", err
	}

	taskID := uuid.NewString()
	control := e.controls.Register(taskID)
	lock := e.locks.Get(sessionID)

	w := agent.NewWorker(agent.WorkerConfig{
		TaskID:        taskID,
		SessionID:     sessionID,
		Scenario:      session.Scenario,
		UserContent:   content,
		MaxIterations: e.cfg.MaxIterations,
		Store:         e.store,
		Tools:         e.tools,
		Bus:           e.bus,
		Pending:       e.pending,
		AllowAll:      e.allowAll,
		Control:       control,
	})

	go func() {
		lock.Lock()
		defer lock.Unlock()
		defer e.controls.Remove(taskID)

		if err := w.Run(context.Background()); err != nil {
			if errdefs.IsCancelled(err) {
				e.logger.Info("agent task cancelled", "task_id", taskID, "session_id", sessionID)
				e.publish(protocol.EventCancelled, taskID)
				return
			}
			e.logger.Error("agent task failed", "task_id", taskID, "session_id", sessionID, "error", err)
			e.publish(protocol.EventError, protocol.EncodePayload(protocol.ErrorPayload{
				TaskID:    taskID,
				Message:   err.Error(),
				Retryable: false,
			}))
		}
	}()

	return taskID, nil
}

// CancelAgentTask flips the task's cancellation flag. The worker observes
// it at the next checkpoint and unwinds; completion is signalled by a
// "cancelled" event, not by this call returning.
func (e *Engine) CancelAgentTask(taskID string) error {
	control, ok := e.controls.Get(taskID)
	if !ok {
		return errdefs.Newf(errdefs.KindNotFound, "task %s", taskID)
	}
	control.Cancel()
	e.publish(protocol.EventCancelling, protocol.EncodePayload(protocol.CancellingPayload{TaskID: taskID}))
	return nil
}

// RespondToolCall delivers the user's decision for a pending tool
// approval request. Side effects (persisting an "always allow", widening
// to the whole session) are applied before the waiting worker resumes.
func (e *Engine) RespondToolCall(ctx context.Context, requestID string, decision protocol.ToolDecision) error {
	call, ok := e.pending.Take(requestID)
	if !ok {
		return errdefs.Newf(errdefs.KindNotFound, "request %s", requestID)
	}

	switch decision.Action {
	case protocol.ToolAllowAllSession:
		e.allowAll.Add(call.SessionID)
	case protocol.ToolAllow:
		if decision.Always {
			_ = e.store.SetToolPermission(ctx, call.ToolName, protocol.PermissionAllow)
		}
	}

	select {
	case call.Response <- decision:
	default:
		return errdefs.New(errdefs.KindInvalidState, "tool request channel closed")
	}

	e.publish(protocol.EventToolCallResponse, protocol.EncodePayload(protocol.ToolCallResponsePayload{
		RequestID: requestID,
		ToolName:  call.ToolName,
		SessionID: call.SessionID,
	}))
	return nil
}

// ListTools returns the registered tool names in sorted order.
func (e *Engine) ListTools() []string {
	all := e.tools.List()
	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Name())
	}
	return names
}
