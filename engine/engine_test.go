package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const laborDoc = "# 劳动仲裁\n拖欠工资可申请劳动仲裁，准备劳动合同、工资流水和沟通记录。"

// intakeAnswers covers the six labor interview questions in order.
var intakeAnswers = []string{
	"在深圳市南山区工作。",
	"2023年3月入职，签了电子劳动合同。",
	"做后端开发，税前月薪两万元。",
	"拖了两个月，总额大约四万元。",
	"希望公司补发工资并支付经济补偿。",
	"有劳动合同、工资流水和聊天记录。",
}

// eventLog collects published events for assertions.
type eventLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (l *eventLog) add(ev protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) snapshot() []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Event(nil), l.events...)
}

func (l *eventLog) waitFor(timeout time.Duration, pred func([]protocol.Event) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred(l.snapshot()) {
			return true
		}
		time.Sleep(30 * time.Millisecond)
	}
	return false
}

// newTestEngine builds an engine over a throwaway SQLite file and a
// knowledge base holding one labor document.
func newTestEngine(t *testing.T, kbDoc string, maxIterations int) (*Engine, *eventLog) {
	t.Helper()
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb")
	if err := os.MkdirAll(filepath.Join(kb, "labor"), 0o755); err != nil {
		t.Fatalf("mkdir kb: %v", err)
	}
	if err := os.WriteFile(filepath.Join(kb, "labor", "law.md"), []byte(kbDoc), 0o644); err != nil {
		t.Fatalf("write kb doc: %v", err)
	}

	eng, err := New(Config{
		KBPath:        kb,
		DBPath:        filepath.Join(dir, "golaw.db"),
		MaxIterations: maxIterations,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	log := &eventLog{}
	eng.SubscribeEvents(log.add)
	return eng, log
}

func allowAllTools(t *testing.T, eng *Engine) {
	t.Helper()
	ctx := context.Background()
	for _, name := range eng.ListTools() {
		if err := eng.SetToolPermission(ctx, name, protocol.PermissionAllow); err != nil {
			t.Fatalf("allow %s: %v", name, err)
		}
	}
}

// waitCompleted blocks until the task publishes its "completed" event and
// returns the decoded payload.
func waitCompleted(t *testing.T, log *eventLog, taskID string) protocol.CompletedPayload {
	t.Helper()
	var got protocol.CompletedPayload
	ok := log.waitFor(10*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind != protocol.EventCompleted {
				continue
			}
			var p protocol.CompletedPayload
			if json.Unmarshal([]byte(ev.Payload), &p) == nil && p.TaskID == taskID {
				got = p
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("task %s never completed; events: %v", taskID, kinds(log.snapshot()))
	}
	return got
}

// runConsultation walks the whole interview and returns the session id and
// the final report.
func runConsultation(t *testing.T, eng *Engine, log *eventLog) (string, string) {
	t.Helper()
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx, "labor", "工资拖欠咨询")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	taskID, err := eng.SendMessage(ctx, sess.ID, "你好，我想咨询工资被拖欠的问题。")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	first := waitCompleted(t, log, taskID)
	if first.Message == "" {
		t.Fatalf("first turn should ask an interview question, got %+v", first)
	}

	var last protocol.CompletedPayload
	for i, answer := range intakeAnswers {
		taskID, err = eng.SendMessage(ctx, sess.ID, answer)
		if err != nil {
			t.Fatalf("send answer %d: %v", i+1, err)
		}
		last = waitCompleted(t, log, taskID)
	}
	if last.Report == "" {
		t.Fatalf("final turn should carry the report, got %+v", last)
	}
	return sess.ID, last.Report
}

func kinds(events []protocol.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

// TestFullConsultation walks the interview to completion and checks the
// run passes through all three phases before the report lands.
func TestFullConsultation(t *testing.T) {
	eng, log := newTestEngine(t, laborDoc, 10)
	allowAllTools(t, eng)

	sessionID, report := runConsultation(t, eng, log)

	phases := map[string]bool{}
	for _, ev := range log.snapshot() {
		if ev.Kind != protocol.EventAgentPhase {
			continue
		}
		var p protocol.AgentPhasePayload
		if json.Unmarshal([]byte(ev.Payload), &p) == nil {
			phases[p.Phase] = true
		}
	}
	for _, want := range []string{"planning", "drafting", "reviewing"} {
		if !phases[want] {
			t.Errorf("phase %q never emitted, saw %v", want, phases)
		}
	}

	if !strings.Contains(report, "劳动仲裁") {
		t.Errorf("report should cite the knowledge base, got:\n%s", report)
	}

	stored, err := eng.GenerateReport(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if stored != report {
		t.Error("persisted report differs from the completed event payload")
	}
}

// TestReportSectionsAndExport checks the report template and the markdown
// export path.
func TestReportSectionsAndExport(t *testing.T) {
	eng, log := newTestEngine(t, laborDoc, 10)
	allowAllTools(t, eng)
	ctx := context.Background()

	sessionID, report := runConsultation(t, eng, log)

	for _, section := range []string{"【事实摘要】", "【法律分析】", "【办事路径】", "【风险提示】", "【免责声明】", "【引用】"} {
		if !strings.Contains(report, section) {
			t.Errorf("report missing section %s", section)
		}
	}

	path := filepath.Join(t.TempDir(), "report.md")
	if err := eng.ExportReportMarkdown(ctx, sessionID, path); err != nil {
		t.Fatalf("export report: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported report: %v", err)
	}
	if string(raw) != report {
		t.Error("exported file differs from the generated report")
	}

	logs, err := eng.ListLogs(ctx, 10)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if strings.Contains(entry.Message, "report exported: "+path) {
			found = true
		}
	}
	if !found {
		t.Error("export was not recorded in the operation log")
	}
}

// TestMaxIterationsExceeded forces the interview to finish and re-plan in
// the same run with a budget of one iteration.
func TestMaxIterationsExceeded(t *testing.T) {
	eng, log := newTestEngine(t, laborDoc, 1)
	allowAllTools(t, eng)
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx, "labor", "迭代上限")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	// All six questions already answered: the next turn marks the
	// interview done and recurses past the budget.
	if err := eng.SetSetting(ctx, "intake:"+sess.ID+":idx", "6"); err != nil {
		t.Fatalf("set setting: %v", err)
	}

	taskID, err := eng.SendMessage(ctx, sess.ID, "材料都给过了。")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	ok := log.waitFor(10*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind != protocol.EventError {
				continue
			}
			var p protocol.ErrorPayload
			if json.Unmarshal([]byte(ev.Payload), &p) == nil && p.TaskID == taskID {
				if !strings.Contains(p.Message, "max_iterations exceeded: 1") {
					t.Errorf("error message = %q, want max_iterations exceeded", p.Message)
				}
				if p.Retryable {
					t.Error("iteration overrun should not be retryable")
				}
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("no error event for task %s; events: %v", taskID, kinds(log.snapshot()))
	}
}

// TestCancelWhileAwaitingApproval cancels a task parked on a tool approval
// prompt and checks the pending request is withdrawn.
func TestCancelWhileAwaitingApproval(t *testing.T) {
	eng, log := newTestEngine(t, laborDoc, 10)
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx, "labor", "取消测试")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// ask_user defaults to "ask", so the first turn parks on approval.
	taskID, err := eng.SendMessage(ctx, sess.ID, "你好")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	var req protocol.ToolCallRequestPayload
	ok := log.waitFor(10*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind != protocol.EventToolCallRequest {
				continue
			}
			if json.Unmarshal([]byte(ev.Payload), &req) == nil && req.TaskID == taskID {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("no approval request; events: %v", kinds(log.snapshot()))
	}
	if req.ToolName != "ask_user" {
		t.Errorf("request tool = %q, want ask_user", req.ToolName)
	}

	if err := eng.CancelAgentTask(taskID); err != nil {
		t.Fatalf("cancel task: %v", err)
	}

	ok = log.waitFor(10*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind == protocol.EventCancelled && ev.Payload == taskID {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("no cancelled event; events: %v", kinds(log.snapshot()))
	}

	// The parked request was withdrawn with the task.
	err = eng.RespondToolCall(ctx, req.RequestID, protocol.ToolDecision{Action: protocol.ToolAllow})
	if !errdefs.IsNotFound(err) {
		t.Errorf("respond after cancel = %v, want not found", err)
	}
}

// TestDeniedToolFailsRun denies kb_search and checks the run surfaces the
// denial as an error event.
func TestDeniedToolFailsRun(t *testing.T) {
	eng, log := newTestEngine(t, laborDoc, 10)
	allowAllTools(t, eng)
	ctx := context.Background()

	if err := eng.SetToolPermission(ctx, "kb_search", protocol.PermissionDeny); err != nil {
		t.Fatalf("deny kb_search: %v", err)
	}

	sess, err := eng.CreateSession(ctx, "labor", "拒绝测试")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := eng.SetSetting(ctx, "intake:"+sess.ID+":done", "1"); err != nil {
		t.Fatalf("set setting: %v", err)
	}

	taskID, err := eng.SendMessage(ctx, sess.ID, "工资被拖欠两个月怎么办？")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	ok := log.waitFor(10*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind != protocol.EventError {
				continue
			}
			var p protocol.ErrorPayload
			if json.Unmarshal([]byte(ev.Payload), &p) == nil && p.TaskID == taskID {
				if !strings.Contains(p.Message, "tool kb_search is denied") {
					t.Errorf("error message = %q, want denied tool", p.Message)
				}
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("no error event; events: %v", kinds(log.snapshot()))
	}
}

// TestSafetyIntercept runs a consultation against a knowledge base that
// promises guaranteed wins and checks the reviewer rewrites the report.
func TestSafetyIntercept(t *testing.T) {
	eng, log := newTestEngine(t, "# 劳动仲裁\n这个方案包赢，保证胜诉。", 10)
	allowAllTools(t, eng)

	sessionID, report := runConsultation(t, eng, log)

	var review protocol.ReviewPayload
	ok := log.waitFor(10*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind != protocol.EventReviewIntercepted {
				continue
			}
			if json.Unmarshal([]byte(ev.Payload), &review) == nil && review.SessionID == sessionID {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatalf("no review_intercepted event; events: %v", kinds(log.snapshot()))
	}
	if review.CriticalCount < 1 {
		t.Errorf("critical count = %d, want >= 1", review.CriticalCount)
	}

	if !strings.Contains(report, "【安全审查】") {
		t.Error("intercepted report should carry the safety notice")
	}
	if strings.Contains(report, "包赢") {
		t.Error("forbidden phrase survived the rewrite")
	}
}

// TestNewValidation covers construction failures and directory setup.
func TestNewValidation(t *testing.T) {
	_, err := New(Config{KBPath: t.TempDir(), DBPath: filepath.Join(t.TempDir(), "a.db")})
	if !errdefs.IsConfig(err) || !strings.Contains(err.Error(), "max_iterations must be > 0") {
		t.Fatalf("zero iterations err = %v, want config error", err)
	}

	dir := t.TempDir()
	kb := filepath.Join(dir, "deep", "kb")
	eng, err := New(Config{KBPath: kb, DBPath: filepath.Join(dir, "data", "golaw.db"), MaxIterations: 5})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer eng.Close()

	if _, err := os.Stat(kb); err != nil {
		t.Errorf("kb path was not created: %v", err)
	}
	want := fmt.Sprintf("kb_path=%s, max_iterations=5", kb)
	if got := eng.Info(); got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}

// TestSubscriptionLifecycle checks the subscribed handshake, test events
// and unsubscribe behavior.
func TestSubscriptionLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t, laborDoc, 5)

	log := &eventLog{}
	id := eng.SubscribeEvents(log.add)

	ok := log.waitFor(2*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind == protocol.EventSubscribed && strings.Contains(ev.Payload, "subscription_id=") {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("new subscriber did not receive its own subscribed event")
	}

	eng.EmitTestEvent("ping")
	ok = log.waitFor(2*time.Second, func(events []protocol.Event) bool {
		for _, ev := range events {
			if ev.Kind == protocol.EventTest && ev.Payload == "ping" {
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("test event not delivered")
	}

	if err := eng.UnsubscribeEvents(id); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	before := len(log.snapshot())
	eng.EmitTestEvent("after")
	time.Sleep(50 * time.Millisecond)
	if got := len(log.snapshot()); got != before {
		t.Errorf("received %d events after unsubscribe, want %d", got, before)
	}

	err := eng.UnsubscribeEvents(id)
	if !errdefs.IsNotFound(err) || !strings.Contains(err.Error(), fmt.Sprintf("subscription %d", id)) {
		t.Errorf("double unsubscribe = %v, want not found", err)
	}
}

// TestCreateMessageValidation rejects malformed tool_calls JSON.
func TestCreateMessageValidation(t *testing.T) {
	eng, _ := newTestEngine(t, laborDoc, 5)
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx, "labor", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = eng.CreateMessage(ctx, sess.ID, protocol.RoleAssistant, "hi", "", "{not json")
	if !errdefs.IsInvalidState(err) || !strings.Contains(err.Error(), "invalid tool_calls json") {
		t.Fatalf("bad tool_calls err = %v, want invalid state", err)
	}

	msg, err := eng.CreateMessage(ctx, sess.ID, protocol.RoleAssistant, "hi", "", `[{"name":"cite"}]`)
	if err != nil {
		t.Fatalf("valid tool_calls rejected: %v", err)
	}
	if msg.ToolCalls == "" {
		t.Error("tool_calls not persisted")
	}
}

// TestModelOps covers connector validation and the happy path against a
// stub OpenRouter endpoint.
func TestModelOps(t *testing.T) {
	eng, log := newTestEngine(t, laborDoc, 5)
	ctx := context.Background()

	if err := eng.TestModelConnection(ctx); !errdefs.IsInvalidState(err) || !strings.Contains(err.Error(), "model not configured") {
		t.Fatalf("unconfigured test err = %v, want invalid state", err)
	}
	if _, err := eng.PingModel(ctx, "ping"); !errdefs.IsInvalidState(err) {
		t.Fatalf("unconfigured ping err = %v, want invalid state", err)
	}
	if _, _, ok := eng.ModelInfo(); ok {
		t.Fatal("ModelInfo should report unconfigured")
	}

	err := eng.UpdateModelConfig(protocol.ModelConfig{APIKey: "  ", ModelName: "m"})
	if !errdefs.IsConfig(err) || !strings.Contains(err.Error(), "OpenRouter API key is empty") {
		t.Fatalf("blank key err = %v", err)
	}
	err = eng.UpdateModelConfig(protocol.ModelConfig{APIKey: "k", ModelName: " "})
	if !errdefs.IsConfig(err) || !strings.Contains(err.Error(), "Model name is empty") {
		t.Fatalf("blank model err = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/models":
			fmt.Fprint(w, `{"data":[]}`)
		case "/chat/completions":
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"你好！"}}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := protocol.DefaultModelConfig()
	cfg.APIKey = "test-key"
	cfg.ModelName = "openrouter/test"
	cfg.BaseURL = srv.URL
	if err := eng.UpdateModelConfig(cfg); err != nil {
		t.Fatalf("update model config: %v", err)
	}

	name, base, ok := eng.ModelInfo()
	if !ok || name != "openrouter/test" || base != srv.URL {
		t.Errorf("ModelInfo = %q %q %v", name, base, ok)
	}

	if err := eng.TestModelConnection(ctx); err != nil {
		t.Fatalf("test connection: %v", err)
	}
	reply, err := eng.PingModel(ctx, "在吗")
	if err != nil {
		t.Fatalf("ping model: %v", err)
	}
	if reply != "你好！" {
		t.Errorf("reply = %q", reply)
	}

	for _, kind := range []string{protocol.EventModelUpdated, protocol.EventModelConnectionOK, protocol.EventModelPing} {
		found := false
		for _, ev := range log.snapshot() {
			if ev.Kind == kind {
				found = true
			}
		}
		if !found {
			t.Errorf("event %s not published", kind)
		}
	}
}

// TestGenerateReportFallback finds reports persisted without a phase
// column, as older transcripts have.
func TestGenerateReportFallback(t *testing.T) {
	eng, _ := newTestEngine(t, laborDoc, 5)
	ctx := context.Background()

	sess, err := eng.CreateSession(ctx, "labor", "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = eng.GenerateReport(ctx, sess.ID)
	if !errdefs.IsNotFound(err) || !strings.Contains(err.Error(), "report for session "+sess.ID) {
		t.Fatalf("missing report err = %v, want not found", err)
	}

	content := "【事实摘要】\n工资被拖欠。\n\n【免责声明】\n本回答由AI生成。"
	if _, err := eng.CreateMessage(ctx, sess.ID, protocol.RoleAssistant, content, "", ""); err != nil {
		t.Fatalf("create message: %v", err)
	}

	report, err := eng.GenerateReport(ctx, sess.ID)
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if report != content {
		t.Errorf("report = %q, want fallback message content", report)
	}
}

// TestUnknownTaskAndRequest covers the not-found paths of the control
// plane calls.
func TestUnknownTaskAndRequest(t *testing.T) {
	eng, _ := newTestEngine(t, laborDoc, 5)
	ctx := context.Background()

	err := eng.CancelAgentTask("no-such-task")
	if !errdefs.IsNotFound(err) || !strings.Contains(err.Error(), "task no-such-task") {
		t.Errorf("cancel unknown = %v, want not found", err)
	}

	err = eng.RespondToolCall(ctx, "no-such-request", protocol.ToolDecision{Action: protocol.ToolAllow})
	if !errdefs.IsNotFound(err) || !strings.Contains(err.Error(), "request no-such-request") {
		t.Errorf("respond unknown = %v, want not found", err)
	}

	_, err = eng.SendMessage(ctx, "no-such-session", "hi")
	if !errdefs.IsNotFound(err) {
		t.Errorf("send to unknown session = %v, want not found", err)
	}
}
