package telegram

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// TestApprovalCallbackRoundTrip verifies that every keyboard action survives
// encode/parse and that the encoded form stays inside Telegram's 64-byte
// callback data limit with a UUID request id.
func TestApprovalCallbackRoundTrip(t *testing.T) {
	requestID := uuid.NewString()

	for _, action := range []string{cbAllow, cbAlways, cbAllSession, cbDeny} {
		data := approvalCallbackData(action, requestID)
		if len(data) > 64 {
			t.Errorf("callback data for %q is %d bytes, exceeds Telegram limit", action, len(data))
		}

		gotAction, gotRequest, ok := parseApprovalCallback(data)
		if !ok {
			t.Fatalf("parseApprovalCallback(%q) rejected its own encoding", data)
		}
		if gotAction != action || gotRequest != requestID {
			t.Errorf("round trip = (%q, %q), want (%q, %q)", gotAction, gotRequest, action, requestID)
		}
	}
}

// TestParseApprovalCallbackRejectsForeignData verifies that unrelated
// callback payloads are ignored instead of being treated as decisions.
func TestParseApprovalCallbackRejectsForeignData(t *testing.T) {
	for _, data := range []string{"", "a:", "a::", "a:allow:", "menu:open", "allow"} {
		if _, _, ok := parseApprovalCallback(data); ok {
			t.Errorf("parseApprovalCallback(%q) = ok, want rejected", data)
		}
	}
}

// TestFormatArguments verifies deterministic ordering and the degraded
// output for absent or malformed arguments.
func TestFormatArguments(t *testing.T) {
	got := formatArguments(json.RawMessage(`{"query":"加班费","top_k":3}`))
	if got != "query=加班费, top_k=3" {
		t.Errorf("formatArguments = %q, want sorted key=value pairs", got)
	}

	if got := formatArguments(nil); got != "" {
		t.Errorf("formatArguments(nil) = %q, want empty", got)
	}
	if got := formatArguments(json.RawMessage(`{}`)); got != "" {
		t.Errorf("formatArguments({}) = %q, want empty", got)
	}
	if got := formatArguments(json.RawMessage(`{broken`)); got != "" {
		t.Errorf("formatArguments(broken) = %q, want empty", got)
	}

	long := formatArguments(json.RawMessage(`{"text":"` + strings.Repeat("长", 500) + `"}`))
	if !strings.HasSuffix(long, "...") {
		t.Errorf("long arguments should be truncated, got %d bytes", len(long))
	}
}

// TestBindingKey pins the settings key format that maps chats to sessions.
func TestBindingKey(t *testing.T) {
	if got := bindingKey(-100123); got != "channel:telegram:-100123" {
		t.Errorf("bindingKey = %q", got)
	}
}
