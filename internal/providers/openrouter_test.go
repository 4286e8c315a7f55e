package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// fastRetryConfig returns model settings with millisecond backoff so retry
// tests finish quickly against a local server.
func fastRetryConfig(baseURL string) protocol.ModelConfig {
	return protocol.ModelConfig{
		APIKey:             "test-key",
		ModelName:          "openrouter/test",
		BaseURL:            baseURL,
		RetryMaxRetries:    2,
		RetryInitialDelay:  1,
		RetryMaxDelay:      5,
		RetryBackoffFactor: 2.0,
	}
}

// chatOK writes a minimal successful chat-completions response.
func chatOK(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

// TestNewOpenRouter_BaseURL verifies the default endpoint and trailing-slash
// normalization.
func TestNewOpenRouter_BaseURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"default", "", "https://openrouter.ai/api/v1"},
		{"trailing slash", "https://proxy.example.com/v1/", "https://proxy.example.com/v1"},
		{"clean", "http://127.0.0.1:9000", "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOpenRouter(protocol.ModelConfig{BaseURL: tt.in})
			if got := o.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestRetryFromProtocol verifies the wire settings map onto durations and
// that unset fields keep their defaults.
func TestRetryFromProtocol(t *testing.T) {
	rc := RetryFromProtocol(protocol.ModelConfig{
		RetryMaxRetries:    5,
		RetryInitialDelay:  50,
		RetryMaxDelay:      2000,
		RetryBackoffFactor: 3.0,
	})
	if rc.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", rc.MaxRetries)
	}
	if rc.InitialDelay != 50*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 50ms", rc.InitialDelay)
	}
	if rc.MaxDelay != 2*time.Second {
		t.Errorf("MaxDelay = %v, want 2s", rc.MaxDelay)
	}
	if rc.BackoffFactor != 3.0 {
		t.Errorf("BackoffFactor = %v, want 3.0", rc.BackoffFactor)
	}

	def := RetryFromProtocol(protocol.ModelConfig{})
	if def != DefaultRetryConfig() {
		t.Errorf("zero config = %+v, want defaults %+v", def, DefaultRetryConfig())
	}
}

// TestRetryConfig_NextCapsAtMax verifies exponential growth stops at MaxDelay.
func TestRetryConfig_NextCapsAtMax(t *testing.T) {
	rc := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2.0}
	d := rc.next(rc.InitialDelay)
	if d != 200*time.Millisecond {
		t.Errorf("first step = %v, want 200ms", d)
	}
	if d = rc.next(d); d != 300*time.Millisecond {
		t.Errorf("second step = %v, want capped 300ms", d)
	}
	if d = rc.next(d); d != 300*time.Millisecond {
		t.Errorf("third step = %v, want capped 300ms", d)
	}
}

// TestChatCompletion_Success verifies the request shape (path, method, auth,
// payload) and that the first choice's text comes back.
func TestChatCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		var req struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
			Stream   bool          `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "openrouter/test" {
			t.Errorf("model = %q, want %q", req.Model, "openrouter/test")
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "工资被拖欠怎么办" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		chatOK(w, "建议先协商，再考虑劳动仲裁。")
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	got, err := o.ChatCompletion(context.Background(), []ChatMessage{
		{Role: "system", Content: "你是法律助手"},
		{Role: "user", Content: "工资被拖欠怎么办"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "建议先协商，再考虑劳动仲裁。" {
		t.Errorf("content = %q", got)
	}
}

// TestChatCompletion_RetryThenSuccess verifies a 503 is retried and the
// second attempt's answer is returned.
func TestChatCompletion_RetryThenSuccess(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		chatOK(w, "ok")
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	got, err := o.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("content = %q, want %q", got, "ok")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

// TestChatCompletion_NonRetryableStatus verifies a 401 fails immediately with
// the status and body in the message.
func TestChatCompletion_NonRetryableStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	_, err := o.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errdefs.IsModel(err) {
		t.Errorf("kind = %v, want model", errdefs.KindOf(err))
	}
	if !strings.Contains(err.Error(), "chat completion failed with status 401") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error should carry the body, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

// TestChatCompletion_RetryExhausted verifies the final retryable status is
// surfaced after max_retries extra attempts.
func TestChatCompletion_RetryExhausted(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "still overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	_, err := o.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "chat completion failed with status 503") {
		t.Errorf("error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
}

// TestChatCompletion_EmptyChoices verifies a well-formed response without
// content is an error rather than an empty string.
func TestChatCompletion_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	_, err := o.ChatCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "empty model response") {
		t.Errorf("error = %v", err)
	}
	if !errdefs.IsModel(err) {
		t.Errorf("kind = %v, want model", errdefs.KindOf(err))
	}
}

// TestTestConnection_OK verifies the models listing probe sends the key and
// accepts a 200.
func TestTestConnection_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	if err := o.TestConnection(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestTestConnection_Unauthorized verifies a rejected key surfaces the status
// and body.
func TestTestConnection_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	err := o.TestConnection(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "model connection failed with status 401") {
		t.Errorf("error = %v", err)
	}
}

// TestChatCompletion_ContextCancelled verifies a cancelled context aborts the
// call instead of burning retries.
func TestChatCompletion_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOpenRouter(fastRetryConfig(srv.URL))
	if _, err := o.ChatCompletion(ctx, []ChatMessage{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

// TestSetRateLimit verifies the limiter toggles with the rpm value.
func TestSetRateLimit(t *testing.T) {
	o := NewOpenRouter(protocol.ModelConfig{})
	if o.limiter != nil {
		t.Fatal("new connector should have no limiter")
	}
	o.SetRateLimit(60)
	if o.limiter == nil {
		t.Fatal("expected limiter after SetRateLimit(60)")
	}
	o.SetRateLimit(0)
	if o.limiter != nil {
		t.Fatal("SetRateLimit(0) should clear the limiter")
	}
}

// TestNewPinger_Validation verifies cron expressions are checked up front.
func TestNewPinger_Validation(t *testing.T) {
	if _, err := NewPinger("*/5 * * * *", func(context.Context) {}); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
	_, err := NewPinger("not a cron", func(context.Context) {})
	if err == nil {
		t.Fatal("expected error for invalid expression, got nil")
	}
	if !errdefs.IsConfig(err) {
		t.Errorf("kind = %v, want config", errdefs.KindOf(err))
	}
}
