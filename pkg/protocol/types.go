// Package protocol defines the wire-level types shared by the engine, the
// gateway and embedding hosts: persisted entities, event envelopes, RPC
// method names and the tool approval vocabulary.
package protocol

// Message phases mark which stage of an agent run produced a message.
const (
	PhasePlan   = "plan"
	PhaseDraft  = "draft"
	PhaseReview = "review"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Session statuses.
const (
	SessionActive   = "active"
	SessionArchived = "archived"
)

// Tool permission levels persisted per tool.
const (
	PermissionAllow = "allow"
	PermissionAsk   = "ask"
	PermissionDeny  = "deny"
)

// Session is one consultation thread.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Scenario  string `json:"scenario"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Status    string `json:"status"`
}

// Message is one chat turn inside a session. Phase is empty for messages
// created outside an agent run. ToolCalls holds raw JSON when present.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Phase     string `json:"phase,omitempty"`
	ToolCalls string `json:"tool_calls,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ToolPermission is a persisted permission override for one tool.
type ToolPermission struct {
	ToolName   string `json:"tool_name"`
	Permission string `json:"permission"`
}

// LogEntry is one row of the persistent audit log.
type LogEntry struct {
	ID        int64  `json:"id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// SearchResult is one scored knowledge base chunk.
type SearchResult struct {
	FilePath  string  `json:"file_path"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	LineStart int     `json:"line_start"`
	LineEnd   int     `json:"line_end"`
	Score     float64 `json:"score"`
}

// KnowledgeInfo summarizes the knowledge base on disk.
type KnowledgeInfo struct {
	KBPath    string `json:"kb_path"`
	FileCount int    `json:"file_count"`
	UpdatedAt int64  `json:"updated_at"`
}

// ToolAction is the user's answer to a tool approval request.
type ToolAction string

const (
	// ToolAllow approves this single invocation. With Always set the tool's
	// persisted permission is upgraded to "allow".
	ToolAllow ToolAction = "allow"
	// ToolAllowAllSession approves every ask-level tool for the rest of the
	// session without persisting anything.
	ToolAllowAllSession ToolAction = "allow_all_session"
	// ToolDeny rejects the invocation and fails the agent run.
	ToolDeny ToolAction = "deny"
)

// ToolDecision is the payload of a tool approval response.
type ToolDecision struct {
	Action ToolAction `json:"action"`
	Always bool       `json:"always,omitempty"`
}

// ModelConfig configures the OpenRouter connector.
type ModelConfig struct {
	APIKey             string  `json:"api_key"`
	ModelName          string  `json:"model_name"`
	BaseURL            string  `json:"base_url,omitempty"`
	RetryMaxRetries    int     `json:"retry_max_retries"`
	RetryInitialDelay  int64   `json:"retry_initial_delay_ms"`
	RetryMaxDelay      int64   `json:"retry_max_delay_ms"`
	RetryBackoffFactor float64 `json:"retry_backoff_factor"`
}

// DefaultModelConfig returns the connector defaults. The API key is left
// empty and must be supplied before the connector can be built.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:          "openrouter/free",
		RetryMaxRetries:    3,
		RetryInitialDelay:  200,
		RetryMaxDelay:      10_000,
		RetryBackoffFactor: 2.0,
	}
}
