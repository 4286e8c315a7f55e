// Package store defines the persistence interface shared by the SQLite
// (standalone) and Postgres (managed) backends.
package store

import (
	"context"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// Store is the durable state behind one engine: sessions, transcripts,
// settings, tool permissions and the operation log.
//
// All methods are safe for concurrent use. Methods that reference a session
// return a not-found error when it does not exist.
type Store interface {
	CreateSession(ctx context.Context, scenario, title string) (protocol.Session, error)
	GetSession(ctx context.Context, id string) (protocol.Session, error)
	ListSessions(ctx context.Context) ([]protocol.Session, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	// CreateMessage appends a message to a session transcript. phase and
	// toolCalls may be empty; toolCalls must be valid JSON when set.
	CreateMessage(ctx context.Context, sessionID, role, content, phase, toolCalls string) (protocol.Message, error)
	GetMessages(ctx context.Context, sessionID string) ([]protocol.Message, error)

	SetSetting(ctx context.Context, key, value string) error
	// GetSetting reports ok=false when the key has never been written.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	// GetSettings fetches several keys at once; absent keys are omitted
	// from the result map.
	GetSettings(ctx context.Context, keys []string) (map[string]string, error)

	SetToolPermission(ctx context.Context, toolName, permission string) error
	// GetToolPermission falls back to DefaultToolPermission for tools that
	// were never configured.
	GetToolPermission(ctx context.Context, toolName string) (string, error)
	ListToolPermissions(ctx context.Context) ([]protocol.ToolPermission, error)

	AppendLog(ctx context.Context, level, message, sessionID string) (int64, error)
	ListLogs(ctx context.Context, limit int) ([]protocol.LogEntry, error)

	Close() error
}

// DefaultToolPermission returns the permission used for tools without a
// stored row. Pure text transforms run unattended; everything that reads
// the knowledge base or drives the interview starts as ask.
func DefaultToolPermission(toolName string) string {
	switch toolName {
	case "cite", "summarize_facts", "check_safety", "suggest_escalation":
		return protocol.PermissionAllow
	default:
		return protocol.PermissionAsk
	}
}
