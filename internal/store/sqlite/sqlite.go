// Package sqlite is the embedded standalone backend. It keeps the whole
// engine state in a single database file using the pure-Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/golaw/internal/store"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// Store implements store.Store on a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies migrations.
// Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "open sqlite", err)
	}
	// The driver serializes writes anyway; a single connection also keeps
	// :memory: databases on one handle.
	db.SetMaxOpenConns(1)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, errdefs.Wrap(errdefs.KindStorage, "migrate sqlite", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) CreateSession(ctx context.Context, scenario, title string) (protocol.Session, error) {
	if scenario == "" {
		scenario = "labor"
	}
	now := time.Now().Unix()
	sess := protocol.Session{
		ID:        uuid.NewString(),
		Title:     title,
		Scenario:  scenario,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    protocol.SessionActive,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, scenario, created_at, updated_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, nullIfEmpty(title), scenario, now, now, sess.Status,
	)
	if err != nil {
		return protocol.Session{}, errdefs.Wrap(errdefs.KindStorage, "create session", err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (protocol.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, scenario, created_at, updated_at, status FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Session{}, errdefs.Newf(errdefs.KindNotFound, "session %s", id)
	}
	if err != nil {
		return protocol.Session{}, errdefs.Wrap(errdefs.KindStorage, "get session", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]protocol.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, scenario, created_at, updated_at, status FROM sessions
		 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "list sessions", err)
	}
	defer rows.Close()

	var out []protocol.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, "scan session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "list sessions", err)
	}
	return out, nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(title), time.Now().Unix(), id)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, "update session title", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "session %s", id)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, "delete session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdefs.Newf(errdefs.KindNotFound, "session %s", id)
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, sessionID, role, content, phase, toolCalls string) (protocol.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.Message{}, errdefs.Wrap(errdefs.KindStorage, "begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Message{}, errdefs.Newf(errdefs.KindNotFound, "session %s", sessionID)
	}
	if err != nil {
		return protocol.Message{}, errdefs.Wrap(errdefs.KindStorage, "check session", err)
	}

	now := time.Now().Unix()
	msg := protocol.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Phase:     phase,
		ToolCalls: toolCalls,
		CreatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, phase, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, role, content, nullIfEmpty(phase), nullIfEmpty(toolCalls), now)
	if err != nil {
		return protocol.Message{}, errdefs.Wrap(errdefs.KindStorage, "create message", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return protocol.Message{}, errdefs.Wrap(errdefs.KindStorage, "touch session", err)
	}
	if err := tx.Commit(); err != nil {
		return protocol.Message{}, errdefs.Wrap(errdefs.KindStorage, "commit message", err)
	}
	return msg, nil
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, phase, tool_calls, created_at
		 FROM messages WHERE session_id = ?
		 ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "get messages", err)
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		var msg protocol.Message
		var phase, toolCalls sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &phase, &toolCalls, &msg.CreatedAt); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, "scan message", err)
		}
		msg.Phase = phase.String
		msg.ToolCalls = toolCalls.String
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "get messages", err)
	}
	return out, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, "set setting", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errdefs.Wrap(errdefs.KindStorage, "get setting", err)
	}
	return value, true, nil
}

func (s *Store) GetSettings(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE key IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "get settings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, "scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "get settings", err)
	}
	return out, nil
}

func (s *Store) SetToolPermission(ctx context.Context, toolName, permission string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_permissions (tool_name, permission) VALUES (?, ?)
		 ON CONFLICT(tool_name) DO UPDATE SET permission = excluded.permission`,
		toolName, permission)
	if err != nil {
		return errdefs.Wrap(errdefs.KindStorage, "set tool permission", err)
	}
	return nil
}

func (s *Store) GetToolPermission(ctx context.Context, toolName string) (string, error) {
	var permission string
	err := s.db.QueryRowContext(ctx,
		`SELECT permission FROM tool_permissions WHERE tool_name = ?`, toolName).Scan(&permission)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DefaultToolPermission(toolName), nil
	}
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindStorage, "get tool permission", err)
	}
	return permission, nil
}

func (s *Store) ListToolPermissions(ctx context.Context) ([]protocol.ToolPermission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, permission FROM tool_permissions ORDER BY tool_name`)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "list tool permissions", err)
	}
	defer rows.Close()
	var out []protocol.ToolPermission
	for rows.Next() {
		var p protocol.ToolPermission
		if err := rows.Scan(&p.ToolName, &p.Permission); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, "scan tool permission", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "list tool permissions", err)
	}
	return out, nil
}

func (s *Store) AppendLog(ctx context.Context, level, message, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (level, message, session_id, created_at) VALUES (?, ?, ?, ?)`,
		level, message, nullIfEmpty(sessionID), time.Now().Unix())
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, "append log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindStorage, "append log", err)
	}
	return id, nil
}

func (s *Store) ListLogs(ctx context.Context, limit int) ([]protocol.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, message, session_id, created_at FROM logs
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "list logs", err)
	}
	defer rows.Close()
	var out []protocol.LogEntry
	for rows.Next() {
		var e protocol.LogEntry
		var sid sql.NullString
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &sid, &e.CreatedAt); err != nil {
			return nil, errdefs.Wrap(errdefs.KindStorage, "scan log", err)
		}
		e.SessionID = sid.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindStorage, "list logs", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (protocol.Session, error) {
	var sess protocol.Session
	var title sql.NullString
	err := row.Scan(&sess.ID, &title, &sess.Scenario, &sess.CreatedAt, &sess.UpdatedAt, &sess.Status)
	if err != nil {
		return protocol.Session{}, err
	}
	sess.Title = title.String
	return sess, nil
}
