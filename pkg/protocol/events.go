package protocol

import (
	"encoding/json"
	"time"
)

// Event kinds pushed to subscribers. Payloads are strings; kinds that carry
// structured data JSON-encode one of the payload structs below.
const (
	EventSubscribed     = "subscribed"      // subscription_id={id}
	EventSessionCreated = "session_created" // session_id={id},scenario={s}
	EventMessageCreated = "message_created" // session_id={sid},message_id={mid}

	EventAgentPhase     = "agent_phase"     // AgentPhasePayload
	EventIntakeProgress = "intake_progress" // IntakeProgressPayload
	EventIntakeDone     = "intake_done"     // IntakeDonePayload

	EventToolCallRequest  = "tool_call_request"  // ToolCallRequestPayload
	EventToolCallResponse = "tool_call_response" // ToolCallResponsePayload
	EventToolCallResult   = "tool_call_result"   // ToolCallResultPayload

	EventReviewIntercepted = "review_intercepted" // ReviewPayload
	EventReviewAdjusted    = "review_adjusted"    // ReviewPayload

	EventCompleted  = "completed"  // CompletedPayload
	EventCancelling = "cancelling" // CancellingPayload
	EventCancelled  = "cancelled"  // bare task id
	EventError      = "error"      // ErrorPayload

	EventReportRegenerating = "report_regenerating" // ReportRegeneratingPayload

	EventModelUpdated      = "model_updated"       // "model config updated"
	EventModelConnectionOK = "model_connection_ok" // "openrouter reachable"
	EventModelPing         = "model_ping"          // "chat completion finished"

	EventTest = "test" // host-supplied message, used to verify a subscription
)

// Event is the envelope delivered to every subscriber.
type Event struct {
	Kind      string `json:"kind"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// NewEvent stamps an event with the current unix time.
func NewEvent(kind, payload string) Event {
	return Event{Kind: kind, Payload: payload, Timestamp: time.Now().Unix()}
}

// AgentPhasePayload announces a phase transition of a running task.
type AgentPhasePayload struct {
	TaskID string `json:"task_id"`
	Phase  string `json:"phase"`
}

// IntakeProgressPayload reports the next intake question.
type IntakeProgressPayload struct {
	TaskID   string `json:"task_id"`
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Question string `json:"question"`
}

// IntakeDonePayload signals that all intake questions were answered.
type IntakeDonePayload struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
}

// ToolCallRequestPayload asks the host to approve a tool invocation.
type ToolCallRequestPayload struct {
	TaskID    string          `json:"task_id"`
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponsePayload confirms that an approval response was consumed.
type ToolCallResponsePayload struct {
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	SessionID string `json:"session_id"`
}

// ToolCallResultPayload carries the output of an executed tool.
type ToolCallResultPayload struct {
	TaskID   string          `json:"task_id"`
	ToolName string          `json:"tool_name"`
	Result   json.RawMessage `json:"result"`
}

// ReviewPayload reports how many safety issues the review phase found.
type ReviewPayload struct {
	TaskID        string `json:"task_id"`
	SessionID     string `json:"session_id"`
	IssueCount    int    `json:"issue_count"`
	CriticalCount int    `json:"critical_count"`
}

// CompletedPayload ends a task. Report is set when the run produced a final
// report; Message is set when the run ended on an intake turn.
type CompletedPayload struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Report    string `json:"report,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CancellingPayload acknowledges a cancel request before the task stops.
type CancellingPayload struct {
	TaskID string `json:"task_id"`
}

// ErrorPayload reports a failed task.
type ErrorPayload struct {
	TaskID    string `json:"task_id"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ReportRegeneratingPayload announces that a report is being rebuilt.
type ReportRegeneratingPayload struct {
	SessionID string `json:"session_id"`
}

// EncodePayload JSON-encodes a payload struct for the event envelope.
func EncodePayload(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
