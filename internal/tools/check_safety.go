package tools

import (
	"context"

	"github.com/nextlevelbuilder/golaw/internal/safety"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

// CheckSafetyTool runs the compliance rewriter over draft content.
type CheckSafetyTool struct{}

func NewCheckSafetyTool() *CheckSafetyTool { return &CheckSafetyTool{} }

func (t *CheckSafetyTool) Name() string { return "check_safety" }
func (t *CheckSafetyTool) Description() string {
	return "Scan draft advice for risky claims and rewrite them"
}
func (t *CheckSafetyTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Draft text to check",
			},
		},
		"required": []string{"content"},
	}
}

func (t *CheckSafetyTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	content, ok := stringArg(args, "content")
	if !ok {
		return nil, errdefs.New(errdefs.KindTool, "check_safety missing content")
	}
	return safety.Check(content), nil
}
