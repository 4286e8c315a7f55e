package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

// BridgeTool adapts one remote MCP tool to the registry's Tool interface.
// The registered name is mcp_{server}_{tool} so permission rows and
// approval prompts distinguish remote tools from builtins.
type BridgeTool struct {
	serverName string
	tool       mcpgo.Tool
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
}

func NewBridgeTool(serverName string, tool mcpgo.Tool, client *mcpclient.Client, timeout time.Duration, connected *atomic.Bool) *BridgeTool {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &BridgeTool{
		serverName: serverName,
		tool:       tool,
		client:     client,
		timeout:    timeout,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string {
	return "mcp_" + b.serverName + "_" + b.tool.Name
}

// OriginalName is the tool's name on the remote server, without the
// mount prefix.
func (b *BridgeTool) OriginalName() string {
	return b.tool.Name
}

func (b *BridgeTool) Description() string {
	if b.tool.Description == "" {
		return fmt.Sprintf("Tool %s provided by MCP server %s", b.tool.Name, b.serverName)
	}
	return b.tool.Description
}

// Parameters round-trips the remote JSON schema into a plain map. A
// schema that fails to marshal degrades to an unconstrained object.
func (b *BridgeTool) Parameters() map[string]any {
	raw, err := json.Marshal(b.tool.InputSchema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || len(schema) == 0 {
		return map[string]any{"type": "object"}
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	if !b.connected.Load() {
		return nil, errdefs.Newf(errdefs.KindTool, "mcp server %s is not connected", b.serverName)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindTool, fmt.Sprintf("call %s on %s", b.tool.Name, b.serverName), err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return nil, errdefs.Newf(errdefs.KindTool, "tool %s failed: %s", b.Name(), text)
	}
	return map[string]any{"content": text}, nil
}

// flattenContent joins text blocks; non-text blocks are kept as raw JSON
// so nothing the server returned is silently dropped.
func flattenContent(items []mcpgo.Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if tc, ok := mcpgo.AsTextContent(item); ok {
			parts = append(parts, tc.Text)
			continue
		}
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n")
}
