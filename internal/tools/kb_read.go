package tools

import (
	"context"

	"github.com/nextlevelbuilder/golaw/internal/retrieval"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

// KBReadTool returns the full content of one knowledge file, typically to
// expand a search hit into its surrounding context.
type KBReadTool struct {
	retriever *retrieval.Retriever
}

func NewKBReadTool(r *retrieval.Retriever) *KBReadTool {
	return &KBReadTool{retriever: r}
}

func (t *KBReadTool) Name() string { return "kb_read" }
func (t *KBReadTool) Description() string {
	return "Read a knowledge base file in full"
}
func (t *KBReadTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path of the file, as returned by kb_search",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *KBReadTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "file_path")
	if !ok || path == "" {
		return nil, errdefs.New(errdefs.KindTool, "kb_read missing file_path")
	}
	content, err := t.retriever.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"file_path": path,
		"content":   content,
	}, nil
}
