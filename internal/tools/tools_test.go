package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/golaw/internal/retrieval"
	"github.com/nextlevelbuilder/golaw/internal/safety"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "labor"), 0o755); err != nil {
		t.Fatal(err)
	}
	err := os.WriteFile(filepath.Join(root, "labor", "law.md"),
		[]byte("# 劳动仲裁\n拖欠工资可申请劳动仲裁，准备劳动合同、工资流水和沟通记录。"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	r := retrieval.New(root)
	reg := NewRegistry()
	reg.Register(NewKBSearchTool(r))
	reg.Register(NewKBReadTool(r))
	reg.Register(NewAskUserTool())
	reg.Register(NewCiteTool())
	reg.Register(NewSummarizeFactsTool())
	reg.Register(NewCheckSafetyTool())
	reg.Register(NewSuggestEscalationTool())
	return reg, root
}

// TestRegistry covers lookup, the not-found error and sorted listing.
func TestRegistry(t *testing.T) {
	reg, _ := testRegistry(t)

	if _, ok := reg.Get("kb_search"); !ok {
		t.Error("kb_search not registered")
	}
	_, err := reg.Run(context.Background(), "no_such_tool", nil)
	if !errdefs.IsNotFound(err) {
		t.Errorf("unknown tool error = %v, want not-found", err)
	}
	if err != nil && !strings.Contains(err.Error(), "no_such_tool") {
		t.Errorf("error should name the tool: %v", err)
	}

	list := reg.List()
	if len(list) != 7 {
		t.Fatalf("len(List) = %d, want 7", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name() >= list[i].Name() {
			t.Errorf("List not sorted: %s before %s", list[i-1].Name(), list[i].Name())
		}
	}
}

// TestIntakeCatalog pins the labor interview and the empty default.
func TestIntakeCatalog(t *testing.T) {
	qs := IntakeQuestions("labor")
	if len(qs) != 6 {
		t.Fatalf("labor questions = %d, want 6", len(qs))
	}
	wantRequired := []bool{true, true, true, false, true, false}
	for i, q := range qs {
		if q.ID != i+1 {
			t.Errorf("question %d has id %d", i, q.ID)
		}
		if q.Required != wantRequired[i] {
			t.Errorf("question %d required = %v, want %v", i+1, q.Required, wantRequired[i])
		}
		if q.Text == "" {
			t.Errorf("question %d has empty text", i+1)
		}
	}
	if qs := IntakeQuestions("contract"); len(qs) != 0 {
		t.Errorf("unknown scenario returned %d questions", len(qs))
	}
}

// TestAskUser covers in-range, completion and the unknown-scenario shape.
func TestAskUser(t *testing.T) {
	tool := NewAskUserTool()
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{"scenario": "labor", "index": 0})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := res.(map[string]any)
	if m["done"] != false || m["id"] != 1 || m["current"] != 1 || m["total"] != 6 {
		t.Errorf("first question payload = %v", m)
	}
	if q, _ := m["question"].(string); !strings.Contains(q, "工作地") {
		t.Errorf("unexpected first question: %v", m["question"])
	}

	// JSON-decoded argument values arrive as float64.
	res, err = tool.Execute(ctx, map[string]any{"index": float64(5)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m = res.(map[string]any)
	if m["done"] != false || m["id"] != 6 {
		t.Errorf("last question payload = %v", m)
	}

	res, _ = tool.Execute(ctx, map[string]any{"index": 6})
	m = res.(map[string]any)
	if m["done"] != true || m["total"] != 6 {
		t.Errorf("completion payload = %v", m)
	}

	res, _ = tool.Execute(ctx, map[string]any{"scenario": "tax"})
	m = res.(map[string]any)
	if m["done"] != true || m["total"] != 0 {
		t.Errorf("unknown scenario payload = %v", m)
	}
}

// TestKBSearch covers argument validation and the pass-through result type.
func TestKBSearch(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Run(ctx, "kb_search", map[string]any{})
	if !errdefs.IsTool(err) || !strings.Contains(err.Error(), "kb_search missing query") {
		t.Errorf("missing query error = %v", err)
	}

	res, err := reg.Run(ctx, "kb_search", map[string]any{"query": "拖欠工资", "top_k": float64(3)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results, ok := res.([]protocol.SearchResult)
	if !ok {
		t.Fatalf("result type = %T, want []protocol.SearchResult", res)
	}
	if len(results) == 0 {
		t.Fatal("no search results")
	}
	if results[0].Title != "劳动仲裁" {
		t.Errorf("Title = %q", results[0].Title)
	}
}

// TestKBRead covers validation, round-trip and containment propagation.
func TestKBRead(t *testing.T) {
	reg, root := testRegistry(t)
	ctx := context.Background()

	_, err := reg.Run(ctx, "kb_read", map[string]any{})
	if !errdefs.IsTool(err) || !strings.Contains(err.Error(), "kb_read missing file_path") {
		t.Errorf("missing file_path error = %v", err)
	}

	path := filepath.Join(root, "labor", "law.md")
	res, err := reg.Run(ctx, "kb_read", map[string]any{"file_path": path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := res.(map[string]any)
	if m["file_path"] != path {
		t.Errorf("file_path = %v", m["file_path"])
	}
	if c, _ := m["content"].(string); !strings.Contains(c, "劳动仲裁") {
		t.Errorf("content = %q", c)
	}

	if _, err := reg.Run(ctx, "kb_read", map[string]any{"file_path": "/etc/hostname"}); err == nil {
		t.Error("read outside kb root should fail")
	}
}

// TestCite pins the citation line format and per-field defaults.
func TestCite(t *testing.T) {
	tool := NewCiteTool()
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{
		"sources": []any{
			map[string]any{"file_path": "kb/labor/law.md", "line_start": float64(1), "line_end": float64(20)},
			map[string]any{"line_end": float64(8)},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	citations := res.(map[string]any)["citations"].(string)
	want := "- kb/labor/law.md:1-20\n- 未知文件:0-8"
	if citations != want {
		t.Errorf("citations = %q, want %q", citations, want)
	}

	res, _ = tool.Execute(ctx, map[string]any{})
	if c := res.(map[string]any)["citations"].(string); c != "" {
		t.Errorf("no sources should give empty citations, got %q", c)
	}
}

// TestSummarizeFacts verifies key-sorted output and non-string filtering.
func TestSummarizeFacts(t *testing.T) {
	tool := NewSummarizeFactsTool()
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{
		"facts": map[string]any{
			"b问题": "乙答案",
			"a问题": "甲答案",
			"跳过":  42,
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	summary := res.(map[string]any)["summary"].(string)
	want := "- a问题：甲答案\n- b问题：乙答案"
	if summary != want {
		t.Errorf("summary = %q, want %q", summary, want)
	}

	res, _ = tool.Execute(ctx, map[string]any{})
	if s := res.(map[string]any)["summary"].(string); s != "" {
		t.Errorf("empty facts should give empty summary, got %q", s)
	}
}

// TestCheckSafety verifies validation and that the rewriter result is
// returned as-is.
func TestCheckSafety(t *testing.T) {
	tool := NewCheckSafetyTool()
	ctx := context.Background()

	_, err := tool.Execute(ctx, map[string]any{})
	if !errdefs.IsTool(err) || !strings.Contains(err.Error(), "check_safety missing content") {
		t.Errorf("missing content error = %v", err)
	}

	res, err := tool.Execute(ctx, map[string]any{"content": "这个方案包赢。"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	cr, ok := res.(safety.CheckResult)
	if !ok {
		t.Fatalf("result type = %T, want safety.CheckResult", res)
	}
	if !cr.HasCritical || len(cr.Issues) != 1 {
		t.Errorf("unexpected result: %+v", cr)
	}
	if strings.Contains(cr.ModifiedContent, "包赢") {
		t.Errorf("content not rewritten: %q", cr.ModifiedContent)
	}
}

// TestSuggestEscalation covers both messages and the empty default.
func TestSuggestEscalation(t *testing.T) {
	tool := NewSuggestEscalationTool()
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]any{"content": "我可能涉及刑事责任"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	m := res.(map[string]any)
	if m["need_escalation"] != true {
		t.Errorf("刑事 keyword should escalate: %v", m)
	}
	if msg := m["message"].(string); !strings.Contains(msg, "风险较高") {
		t.Errorf("message = %q", msg)
	}

	res, _ = tool.Execute(ctx, map[string]any{"content": "公司拖欠了两个月工资"})
	m = res.(map[string]any)
	if m["need_escalation"] != false {
		t.Errorf("wage case should not escalate: %v", m)
	}
	if msg := m["message"].(string); !strings.Contains(msg, "仅供参考") {
		t.Errorf("message = %q", msg)
	}

	res, _ = tool.Execute(ctx, map[string]any{})
	if res.(map[string]any)["need_escalation"] != false {
		t.Error("empty content should not escalate")
	}
}
