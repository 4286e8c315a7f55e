package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/golaw/internal/store"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSessionLifecycle covers create, get, rename, list ordering and delete.
func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "labor", "欠薪咨询")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.Scenario != "labor" || first.Status != protocol.SessionActive {
		t.Errorf("unexpected session: %+v", first)
	}
	if first.ID == "" || first.CreatedAt == 0 {
		t.Errorf("session missing id or timestamp: %+v", first)
	}

	got, err := s.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "欠薪咨询" {
		t.Errorf("Title = %q, want %q", got.Title, "欠薪咨询")
	}

	if err := s.UpdateSessionTitle(ctx, first.ID, "改名"); err != nil {
		t.Fatalf("UpdateSessionTitle: %v", err)
	}
	got, _ = s.GetSession(ctx, first.ID)
	if got.Title != "改名" {
		t.Errorf("Title after rename = %q", got.Title)
	}

	second, err := s.CreateSession(ctx, "", "")
	if err != nil {
		t.Fatalf("CreateSession (defaults): %v", err)
	}
	if second.Scenario != "labor" {
		t.Errorf("empty scenario should default to labor, got %q", second.Scenario)
	}

	// A new message bumps updated_at, so first should lead the list again.
	if _, err := s.CreateMessage(ctx, first.ID, protocol.RoleUser, "你好", "", ""); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	list, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}

	if err := s.DeleteSession(ctx, second.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.GetSession(ctx, second.ID); !errdefs.IsNotFound(err) {
		t.Errorf("GetSession after delete = %v, want not-found", err)
	}
	if err := s.DeleteSession(ctx, second.ID); !errdefs.IsNotFound(err) {
		t.Errorf("double delete = %v, want not-found", err)
	}
	if err := s.UpdateSessionTitle(ctx, "missing", "x"); !errdefs.IsNotFound(err) {
		t.Errorf("rename missing = %v, want not-found", err)
	}
}

// TestMessages covers transcript append/order, nullable columns and the
// not-found guard for unknown sessions.
func TestMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, _ := s.CreateSession(ctx, "labor", "")
	if _, err := s.CreateMessage(ctx, "no-such-session", protocol.RoleUser, "hi", "", ""); !errdefs.IsNotFound(err) {
		t.Errorf("CreateMessage unknown session = %v, want not-found", err)
	}

	m1, err := s.CreateMessage(ctx, sess.ID, protocol.RoleUser, "被拖欠工资", protocol.PhasePlan, "")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	m2, err := s.CreateMessage(ctx, sess.ID, protocol.RoleAssistant, "收到", protocol.PhaseDraft, `[{"name":"kb_search"}]`)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	msgs, err := s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Errorf("messages out of insertion order: %v then %v", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].ToolCalls != "" {
		t.Errorf("empty tool_calls should round-trip empty, got %q", msgs[0].ToolCalls)
	}
	if msgs[1].ToolCalls != `[{"name":"kb_search"}]` {
		t.Errorf("tool_calls = %q", msgs[1].ToolCalls)
	}
	if msgs[1].Phase != protocol.PhaseDraft {
		t.Errorf("phase = %q, want %q", msgs[1].Phase, protocol.PhaseDraft)
	}

	// Deleting the session cascades to its messages.
	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	msgs, err = s.GetMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetMessages after delete: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived session delete: %d left", len(msgs))
	}
}

// TestSettings covers upsert, missing-key reporting and batch reads.
func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetSetting(ctx, "model"); err != nil || ok {
		t.Errorf("GetSetting missing = (%v, %v), want ok=false", ok, err)
	}
	if err := s.SetSetting(ctx, "model", "a"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "model", "b"); err != nil {
		t.Fatalf("SetSetting (upsert): %v", err)
	}
	v, ok, err := s.GetSetting(ctx, "model")
	if err != nil || !ok || v != "b" {
		t.Errorf("GetSetting = (%q, %v, %v), want (b, true, nil)", v, ok, err)
	}

	_ = s.SetSetting(ctx, "kb_version", "3")
	got, err := s.GetSettings(ctx, []string{"model", "kb_version", "absent"})
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if len(got) != 2 || got["model"] != "b" || got["kb_version"] != "3" {
		t.Errorf("GetSettings = %v", got)
	}
	if _, present := got["absent"]; present {
		t.Error("absent key should be omitted from batch result")
	}
}

// TestToolPermissions verifies the built-in defaults and stored overrides.
func TestToolPermissions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		tool string
		want string
	}{
		{"cite", protocol.PermissionAllow},
		{"summarize_facts", protocol.PermissionAllow},
		{"check_safety", protocol.PermissionAllow},
		{"suggest_escalation", protocol.PermissionAllow},
		{"kb_search", protocol.PermissionAsk},
		{"ask_user", protocol.PermissionAsk},
		{"mcp_fs_read", protocol.PermissionAsk},
	}
	for _, tt := range tests {
		got, err := s.GetToolPermission(ctx, tt.tool)
		if err != nil {
			t.Fatalf("GetToolPermission(%s): %v", tt.tool, err)
		}
		if got != tt.want {
			t.Errorf("default permission for %s = %q, want %q", tt.tool, got, tt.want)
		}
	}

	if err := s.SetToolPermission(ctx, "kb_search", protocol.PermissionDeny); err != nil {
		t.Fatalf("SetToolPermission: %v", err)
	}
	if got, _ := s.GetToolPermission(ctx, "kb_search"); got != protocol.PermissionDeny {
		t.Errorf("stored permission = %q, want deny", got)
	}

	perms, err := s.ListToolPermissions(ctx)
	if err != nil {
		t.Fatalf("ListToolPermissions: %v", err)
	}
	if len(perms) != 1 || perms[0].ToolName != "kb_search" {
		t.Errorf("ListToolPermissions = %+v", perms)
	}
}

// TestLogs verifies append returns growing ids and listing is newest-first.
func TestLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.AppendLog(ctx, "info", "engine started", "")
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	id2, err := s.AppendLog(ctx, "warn", "model slow", "sess-1")
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if id2 <= id1 {
		t.Errorf("log ids not increasing: %d then %d", id1, id2)
	}

	logs, err := s.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	if logs[0].ID != id2 {
		t.Errorf("newest log first: got id %d, want %d", logs[0].ID, id2)
	}
	if logs[0].SessionID != "sess-1" || logs[1].SessionID != "" {
		t.Errorf("session ids = %q, %q", logs[0].SessionID, logs[1].SessionID)
	}

	logs, _ = s.ListLogs(ctx, 1)
	if len(logs) != 1 {
		t.Errorf("limit ignored: got %d entries", len(logs))
	}
}

// TestDefaultToolPermission pins the permission table the gate relies on.
func TestDefaultToolPermission(t *testing.T) {
	for _, name := range []string{"cite", "summarize_facts", "check_safety", "suggest_escalation"} {
		if got := store.DefaultToolPermission(name); got != protocol.PermissionAllow {
			t.Errorf("DefaultToolPermission(%s) = %q, want allow", name, got)
		}
	}
	for _, name := range []string{"kb_search", "kb_read", "ask_user", "anything_else"} {
		if got := store.DefaultToolPermission(name); got != protocol.PermissionAsk {
			t.Errorf("DefaultToolPermission(%s) = %q, want ask", name, got)
		}
	}
}
