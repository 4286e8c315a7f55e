package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SummarizeFactsTool renders collected intake answers as a bullet list,
// sorted by question text for a stable summary.
type SummarizeFactsTool struct{}

func NewSummarizeFactsTool() *SummarizeFactsTool { return &SummarizeFactsTool{} }

func (t *SummarizeFactsTool) Name() string { return "summarize_facts" }
func (t *SummarizeFactsTool) Description() string {
	return "Summarize collected case facts into a bullet list"
}
func (t *SummarizeFactsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"facts": map[string]any{
				"type":        "object",
				"description": "Question to answer mapping",
			},
		},
	}
}

func (t *SummarizeFactsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	facts, _ := args["facts"].(map[string]any)
	keys := make([]string, 0, len(facts))
	for k, v := range facts {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s：%s", k, facts[k].(string)))
	}
	return map[string]any{
		"summary": strings.Join(lines, "\n"),
	}, nil
}
