package protocol

import "encoding/json"

// ProtocolVersion is bumped whenever frames or method schemas change shape.
const ProtocolVersion = "1"

// WebSocket RPC method names. Grouped by surface.
const (
	// Sessions
	MethodSessionsCreate = "sessions.create"
	MethodSessionsList   = "sessions.list"
	MethodSessionsGet    = "sessions.get"
	MethodSessionsRename = "sessions.rename"
	MethodSessionsDelete = "sessions.delete"

	// Messages and agent runs
	MethodMessagesCreate = "messages.create"
	MethodMessagesList   = "messages.list"
	MethodMessagesSend   = "messages.send"
	MethodAgentCancel    = "agent.cancel"

	// Tool approvals and permissions
	MethodToolsList           = "tools.list"
	MethodToolsRespond        = "tools.respond"
	MethodToolsPermissionsGet = "tools.permissions.get"
	MethodToolsPermissionsSet = "tools.permissions.set"

	// Knowledge base
	MethodKBSearch = "kb.search"
	MethodKBRead   = "kb.read"
	MethodKBInfo   = "kb.info"

	// Reports
	MethodReportGenerate   = "report.generate"
	MethodReportRegenerate = "report.regenerate"
	MethodReportExport     = "report.export"

	// Model connector
	MethodModelGet    = "model.get"
	MethodModelUpdate = "model.update"
	MethodModelTest   = "model.test"
	MethodModelPing   = "model.ping"

	// Diagnostics
	MethodLogsList = "logs.list"
	MethodHealth   = "health"
)

// Frame types multiplexed over one WebSocket connection.
const (
	FrameRequest  = "req"
	FrameResponse = "res"
	FrameEvent    = "event"
)

// Request is a client-to-server RPC frame.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers one Request. Exactly one of Result or Error is set.
type Response struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo mirrors the errdefs kind taxonomy on the wire.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewOKResponse builds a success response for req id. result must be
// JSON-marshalable; a marshal failure degrades to an unknown error
// response rather than dropping the reply.
func NewOKResponse(id string, result any) Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, "unknown", "encode result: "+err.Error())
	}
	return Response{Type: FrameResponse, ID: id, OK: true, Result: raw}
}

// NewErrorResponse builds an error response for req id.
func NewErrorResponse(id, kind, message string) Response {
	return Response{Type: FrameResponse, ID: id, OK: false, Error: &ErrorInfo{Kind: kind, Message: message}}
}

// EventFrame pushes an engine event to a subscribed connection.
type EventFrame struct {
	Type  string `json:"type"`
	Event Event  `json:"event"`
}
