package tools

import (
	"context"

	"github.com/nextlevelbuilder/golaw/internal/retrieval"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

// KBSearchTool queries the markdown knowledge base.
type KBSearchTool struct {
	retriever *retrieval.Retriever
}

func NewKBSearchTool(r *retrieval.Retriever) *KBSearchTool {
	return &KBSearchTool{retriever: r}
}

func (t *KBSearchTool) Name() string { return "kb_search" }
func (t *KBSearchTool) Description() string {
	return "Search the legal knowledge base for statutes and guides relevant to a query"
}
func (t *KBSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query text",
			},
			"scenario": map[string]any{
				"type":        "string",
				"description": "Scenario scope, e.g. labor (default)",
			},
			"top_k": map[string]any{
				"type":        "integer",
				"description": "Maximum number of chunks to return (default 5)",
			},
		},
		"required": []string{"query"},
	}
}

func (t *KBSearchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, ok := stringArg(args, "query")
	if !ok || query == "" {
		return nil, errdefs.New(errdefs.KindTool, "kb_search missing query")
	}
	scenario := stringArgOr(args, "scenario", "labor")
	topK := intArg(args, "top_k", 5)
	return t.retriever.Search(ctx, query, scenario, topK)
}
