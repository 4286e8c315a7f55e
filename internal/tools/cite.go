package tools

import (
	"context"
	"fmt"
	"strings"
)

// CiteTool formats source references as a citation block.
type CiteTool struct{}

func NewCiteTool() *CiteTool { return &CiteTool{} }

func (t *CiteTool) Name() string { return "cite" }
func (t *CiteTool) Description() string {
	return "Format knowledge base sources into a citation list"
}
func (t *CiteTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sources": map[string]any{
				"type":        "array",
				"description": "Sources with file_path, line_start and line_end",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"file_path":  map[string]any{"type": "string"},
						"line_start": map[string]any{"type": "integer"},
						"line_end":   map[string]any{"type": "integer"},
					},
				},
			},
		},
	}
}

func (t *CiteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	sources, _ := args["sources"].([]any)
	lines := make([]string, 0, len(sources))
	for _, raw := range sources {
		src, _ := raw.(map[string]any)
		path := stringArgOr(src, "file_path", "未知文件")
		start := intArg(src, "line_start", 0)
		end := intArg(src, "line_end", 0)
		lines = append(lines, fmt.Sprintf("- %s:%d-%d", path, start, end))
	}
	return map[string]any{
		"citations": strings.Join(lines, "\n"),
	}, nil
}
