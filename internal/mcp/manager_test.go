package mcp

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/golaw/internal/tools"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

// stubTool stands in for a builtin occupying a registry slot.
type stubTool struct{ name string }

func (t *stubTool) Name() string               { return t.name }
func (t *stubTool) Description() string        { return "stub" }
func (t *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t *stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

// TestBridgeToolNaming checks the mount prefix and the description
// fallback for servers that publish bare tools.
func TestBridgeToolNaming(t *testing.T) {
	var connected atomic.Bool
	bt := NewBridgeTool("lawdb", mcpgo.Tool{Name: "query"}, nil, 0, &connected)

	if got := bt.Name(); got != "mcp_lawdb_query" {
		t.Errorf("Name() = %q, want %q", got, "mcp_lawdb_query")
	}
	if got := bt.OriginalName(); got != "query" {
		t.Errorf("OriginalName() = %q, want %q", got, "query")
	}
	if got := bt.Description(); !strings.Contains(got, "lawdb") || !strings.Contains(got, "query") {
		t.Errorf("fallback description = %q", got)
	}

	bt = NewBridgeTool("lawdb", mcpgo.Tool{Name: "query", Description: "查询法规条文"}, nil, 0, &connected)
	if got := bt.Description(); got != "查询法规条文" {
		t.Errorf("Description() = %q", got)
	}
}

// TestBridgeToolParameters round-trips the remote schema.
func TestBridgeToolParameters(t *testing.T) {
	var connected atomic.Bool
	bt := NewBridgeTool("lawdb", mcpgo.Tool{
		Name: "query",
		InputSchema: mcpgo.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"keyword": map[string]any{"type": "string"},
			},
			Required: []string{"keyword"},
		},
	}, nil, 0, &connected)

	params := bt.Parameters()
	if params["type"] != "object" {
		t.Errorf("type = %v, want object", params["type"])
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", params)
	}
	if _, ok := props["keyword"]; !ok {
		t.Errorf("keyword property lost in round trip: %v", props)
	}
}

// TestBridgeToolNotConnected fails fast instead of calling a dead server.
func TestBridgeToolNotConnected(t *testing.T) {
	var connected atomic.Bool
	bt := NewBridgeTool("lawdb", mcpgo.Tool{Name: "query"}, nil, 0, &connected)

	_, err := bt.Execute(context.Background(), map[string]any{"keyword": "工资"})
	if !errdefs.IsTool(err) || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("Execute() err = %v, want tool error about connectivity", err)
	}
}

func TestFlattenContent(t *testing.T) {
	got := flattenContent([]mcpgo.Content{
		mcpgo.TextContent{Type: "text", Text: "第一条"},
		mcpgo.TextContent{Type: "text", Text: "第二条"},
	})
	if got != "第一条\n第二条" {
		t.Errorf("flattenContent = %q", got)
	}

	if got := flattenContent(nil); got != "" {
		t.Errorf("flattenContent(nil) = %q, want empty", got)
	}
}

// TestManagerStartEmpty treats a config without MCP servers as a no-op.
func TestManagerStartEmpty(t *testing.T) {
	m := NewManager(tools.NewRegistry(), nil)
	if err := m.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}
	if got := m.Status(); len(got) != 0 {
		t.Errorf("Status() = %v, want empty", got)
	}
	if got := m.ToolNames(); len(got) != 0 {
		t.Errorf("ToolNames() = %v, want empty", got)
	}
}

// TestManagerStopUnregisters removes bridged tools from the registry.
func TestManagerStopUnregisters(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&stubTool{name: "mcp_lawdb_query"})

	m := NewManager(reg, nil)
	m.servers["lawdb"] = &serverState{
		name:      "lawdb",
		toolNames: []string{"mcp_lawdb_query"},
	}

	m.Stop()

	if _, ok := reg.Get("mcp_lawdb_query"); ok {
		t.Error("bridged tool still registered after Stop")
	}
	if got := m.Status(); len(got) != 0 {
		t.Errorf("Status() after Stop = %v, want empty", got)
	}
}
