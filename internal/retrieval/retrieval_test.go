package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

func writeKB(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestTokenize pins the bigram expansion the index and queries both rely on.
func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"latin lowercased", "Labor LAW 2024", []string{"labor", "law", "2024"}},
		{"cjk bigrams", "拖欠工资", []string{"拖欠", "欠工", "工资"}},
		{"single cjk char", "法", []string{"法"}},
		{"mixed scripts", "第three条", []string{"第", "three", "条"}},
		{"punctuation splits", "工资，流水", []string{"工资", "流水"}},
		{"empty", "", nil},
		{"whitespace only", "  \n\t", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestSearchFindsRelevantChunk verifies basic ranking plus the shape of a
// returned result (heading title, 1-based line span, positive score).
func TestSearchFindsRelevantChunk(t *testing.T) {
	root := t.TempDir()
	writeKB(t, root, map[string]string{
		"labor/arbitration.md": "# 劳动仲裁指南\n拖欠工资可以申请劳动仲裁。\n需要准备劳动合同、工资流水和沟通记录。",
		"labor/contract.md":    "# 劳动合同\n试用期约定不得超过法定上限。",
	})

	r := New(root)
	results, err := r.Search(context.Background(), "拖欠工资 劳动仲裁", "labor", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results, got none")
	}
	top := results[0]
	if top.Title != "劳动仲裁指南" {
		t.Errorf("Title = %q, want 劳动仲裁指南", top.Title)
	}
	if !strings.Contains(top.Snippet, "拖欠工资") {
		t.Errorf("Snippet should contain the query term: %q", top.Snippet)
	}
	if top.LineStart != 1 || top.LineEnd < 3 {
		t.Errorf("line span = %d-%d, want 1-3", top.LineStart, top.LineEnd)
	}
	if top.Score <= 0 {
		t.Errorf("Score = %f, want > 0", top.Score)
	}
	if !strings.HasPrefix(top.FilePath, root) {
		t.Errorf("FilePath %q not under root %q", top.FilePath, root)
	}
}

// TestSearchEmptyQuery verifies blank and whitespace-only queries return an
// empty result set without touching the index.
func TestSearchEmptyQuery(t *testing.T) {
	r := New(t.TempDir())
	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := r.Search(context.Background(), q, "labor", 5)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("Search(%q) returned %d results, want 0", q, len(results))
		}
	}
}

// TestSearchScenarioScope verifies the scenario filter applies only when a
// matching subdirectory exists.
func TestSearchScenarioScope(t *testing.T) {
	root := t.TempDir()
	writeKB(t, root, map[string]string{
		"labor/a.md":    "# 劳动\n仲裁时效为一年。",
		"contract/b.md": "# 合同\n仲裁条款需要书面约定。",
	})
	r := New(root)

	results, err := r.Search(context.Background(), "仲裁", "labor", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, res := range results {
		if strings.Contains(res.FilePath, "contract") {
			t.Errorf("scenario=labor leaked contract doc: %s", res.FilePath)
		}
	}
	if len(results) == 0 {
		t.Fatal("labor scope returned nothing")
	}

	// No directory named "tax": the filter is skipped, everything matches.
	all, err := r.Search(context.Background(), "仲裁", "tax", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) < 2 {
		t.Errorf("unscoped search found %d chunks, want both docs", len(all))
	}
}

// TestSearchTopK verifies the result cap.
func TestSearchTopK(t *testing.T) {
	root := t.TempDir()
	writeKB(t, root, map[string]string{
		"labor/a.md": "# 一\n工资工资",
		"labor/b.md": "# 二\n工资流水",
		"labor/c.md": "# 三\n工资发放",
	})
	r := New(root)
	results, err := r.Search(context.Background(), "工资", "labor", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) > 2 {
		t.Errorf("top_k=2 returned %d results", len(results))
	}
}

// TestChunkLineNumbers verifies 20-line windows produce 1-based inclusive
// spans and that later chunks are addressable.
func TestChunkLineNumbers(t *testing.T) {
	var b strings.Builder
	b.WriteString("# 长文档\n")
	for i := 2; i <= 24; i++ {
		if i == 23 {
			b.WriteString("经济补偿金按工作年限计算。\n")
			continue
		}
		b.WriteString("填充行。\n")
	}
	root := t.TempDir()
	writeKB(t, root, map[string]string{"labor/long.md": b.String()})

	r := New(root)
	results, err := r.Search(context.Background(), "经济补偿金", "labor", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results for term on line 23")
	}
	top := results[0]
	if top.LineStart != 21 {
		t.Errorf("LineStart = %d, want 21", top.LineStart)
	}
	if top.LineEnd < 23 {
		t.Errorf("LineEnd = %d, want >= 23", top.LineEnd)
	}
}

// TestDocTitleFallbacks pins heading extraction and the stem fallback.
func TestDocTitleFallbacks(t *testing.T) {
	tests := []struct {
		name, content, path, want string
	}{
		{"h1", "# 劳动法\n正文", "x/a.md", "劳动法"},
		{"h2 deeper in file", "前言\n  ## 细则 \n正文", "x/a.md", "细则"},
		{"no heading uses stem", "纯文本内容", "x/guide.md", "guide"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := docTitle(tt.content, tt.path); got != tt.want {
				t.Errorf("docTitle = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestReadFileContainment verifies reads are confined to the knowledge root.
func TestReadFileContainment(t *testing.T) {
	root := t.TempDir()
	writeKB(t, root, map[string]string{"labor/a.md": "内容"})
	r := New(root)

	content, err := r.ReadFile(filepath.Join(root, "labor", "a.md"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if content != "内容" {
		t.Errorf("content = %q", content)
	}

	if _, err := r.ReadFile(filepath.Join(root, "..", "outside.md")); !errdefs.IsInvalidState(err) {
		t.Errorf("escape attempt error = %v, want invalid-state", err)
	}
	if _, err := r.ReadFile(filepath.Join(root, "labor", "missing.md")); !errdefs.IsStorage(err) {
		t.Errorf("missing file error = %v, want storage", err)
	}
}

// TestInfo verifies file counting and the configured-path echo.
func TestInfo(t *testing.T) {
	root := t.TempDir()
	writeKB(t, root, map[string]string{
		"labor/a.md":    "# A",
		"labor/b.md":    "# B",
		"contract/c.md": "# C",
		"notes.txt":     "ignored",
	})
	r := New(root)
	info, err := r.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", info.FileCount)
	}
	if info.KBPath != root {
		t.Errorf("KBPath = %q, want %q", info.KBPath, root)
	}
	if info.UpdatedAt == 0 {
		t.Error("UpdatedAt not populated")
	}
}
