// Package providers talks to the OpenRouter chat-completions API on behalf
// of the engine's model operations.
package providers

// ChatMessage is one turn in a completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}
