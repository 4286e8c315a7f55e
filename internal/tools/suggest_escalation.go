package tools

import (
	"context"
	"strings"
)

// SuggestEscalationTool decides whether the matter is risky enough to push
// the user toward a licensed lawyer, based on topic keywords.
type SuggestEscalationTool struct{}

func NewSuggestEscalationTool() *SuggestEscalationTool { return &SuggestEscalationTool{} }

var escalationKeywords = []string{"刑事", "移民", "证券", "重大财产", "坐牢", "犯罪"}

func (t *SuggestEscalationTool) Name() string { return "suggest_escalation" }
func (t *SuggestEscalationTool) Description() string {
	return "Assess whether the case should be escalated to a licensed lawyer"
}
func (t *SuggestEscalationTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "User-described situation to assess",
			},
		},
	}
}

func (t *SuggestEscalationTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	content := stringArgOr(args, "content", "")

	need := false
	for _, kw := range escalationKeywords {
		if strings.Contains(content, kw) {
			need = true
			break
		}
	}
	message := "以上建议仅供参考；如果争议金额较大或事实复杂，建议再请执业律师把关。"
	if need {
		message = "这个场景风险较高，建议尽快和执业律师一对一确认关键细节。"
	}
	return map[string]any{
		"need_escalation": need,
		"message":         message,
	}, nil
}
