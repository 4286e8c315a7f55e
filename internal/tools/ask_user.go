package tools

import "context"

// AskUserTool serves the next interview question for a scenario. The worker
// tracks progress in session settings; this tool only reads the catalog.
type AskUserTool struct{}

func NewAskUserTool() *AskUserTool { return &AskUserTool{} }

func (t *AskUserTool) Name() string { return "ask_user" }
func (t *AskUserTool) Description() string {
	return "Fetch the next fact-intake question to ask the user"
}
func (t *AskUserTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scenario": map[string]any{
				"type":        "string",
				"description": "Scenario whose interview catalog to use (default labor)",
			},
			"index": map[string]any{
				"type":        "integer",
				"description": "Zero-based question index",
			},
		},
	}
}

func (t *AskUserTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	scenario := stringArgOr(args, "scenario", "labor")
	index := intArg(args, "index", 0)

	questions := IntakeQuestions(scenario)
	if index < 0 || index >= len(questions) {
		return map[string]any{
			"done":  true,
			"total": len(questions),
		}, nil
	}
	q := questions[index]
	return map[string]any{
		"done":     false,
		"id":       q.ID,
		"question": q.Text,
		"required": q.Required,
		"current":  index + 1,
		"total":    len(questions),
	}, nil
}
