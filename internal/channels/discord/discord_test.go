package discord

import (
	"testing"

	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// TestParseApprovalWord verifies the reply-command vocabulary and that
// ordinary consultation text is never read as a decision.
func TestParseApprovalWord(t *testing.T) {
	tests := []struct {
		in      string
		action  protocol.ToolAction
		always  bool
		matched bool
	}{
		{"allow", protocol.ToolAllow, false, true},
		{"  ALLOW  ", protocol.ToolAllow, false, true},
		{"always", protocol.ToolAllow, true, true},
		{"all", protocol.ToolAllowAllSession, false, true},
		{"deny", protocol.ToolDeny, false, true},
		{"拖欠工资怎么办", "", false, false},
		{"allow it", "", false, false},
		{"", "", false, false},
	}

	for _, tt := range tests {
		got, matched := parseApprovalWord(tt.in)
		if matched != tt.matched {
			t.Errorf("parseApprovalWord(%q) matched = %v, want %v", tt.in, matched, tt.matched)
			continue
		}
		if !matched {
			continue
		}
		if got.Action != tt.action || got.Always != tt.always {
			t.Errorf("parseApprovalWord(%q) = {%s %v}, want {%s %v}",
				tt.in, got.Action, got.Always, tt.action, tt.always)
		}
	}
}

// TestStripMention verifies that both mention forms disappear and the
// remaining consultation text is preserved.
func TestStripMention(t *testing.T) {
	if got := stripMention("<@99> 我被拖欠工资了", "99"); got != "我被拖欠工资了" {
		t.Errorf("stripMention = %q", got)
	}
	if got := stripMention("<@!99>加班费怎么算", "99"); got != "加班费怎么算" {
		t.Errorf("stripMention nick form = %q", got)
	}
	if got := stripMention("没有提及", "99"); got != "没有提及" {
		t.Errorf("stripMention without mention = %q", got)
	}
}

// TestBindingKey pins the settings key format that maps channels to sessions.
func TestBindingKey(t *testing.T) {
	if got := bindingKey("123456"); got != "channel:discord:123456" {
		t.Errorf("bindingKey = %q", got)
	}
}
