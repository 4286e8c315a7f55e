package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/golaw/internal/store"
	"github.com/nextlevelbuilder/golaw/internal/tools"
)

// Intake progress lives in session settings so it survives restarts:
// intake:{session}:idx is the index of the question currently being asked,
// intake:{session}:done flags a finished interview, and each answer sits
// under intake:{session}:answer:{n}.

type intakeState struct {
	questions    []tools.IntakeQuestion
	currentIndex int
	done         bool
}

func loadIntakeState(ctx context.Context, st store.Store, sessionID, scenario string) (intakeState, error) {
	state := intakeState{questions: tools.IntakeQuestions(scenario)}

	raw, ok, err := st.GetSetting(ctx, fmt.Sprintf("intake:%s:idx", sessionID))
	if err != nil {
		return intakeState{}, err
	}
	if ok {
		if n, convErr := strconv.Atoi(raw); convErr == nil {
			state.currentIndex = n
		}
	}

	raw, ok, err = st.GetSetting(ctx, fmt.Sprintf("intake:%s:done", sessionID))
	if err != nil {
		return intakeState{}, err
	}
	state.done = ok && raw == "1"
	return state, nil
}

func startIntake(ctx context.Context, st store.Store, sessionID string) error {
	return st.SetSetting(ctx, fmt.Sprintf("intake:%s:idx", sessionID), "1")
}

func markIntakeDone(ctx context.Context, st store.Store, sessionID string) error {
	return st.SetSetting(ctx, fmt.Sprintf("intake:%s:done", sessionID), "1")
}

func saveAnswer(ctx context.Context, st store.Store, sessionID string, questionIndex int, answer string) error {
	return st.SetSetting(ctx, fmt.Sprintf("intake:%s:answer:%d", sessionID, questionIndex), answer)
}

func advanceIntakeIndex(ctx context.Context, st store.Store, sessionID string, next int) error {
	return st.SetSetting(ctx, fmt.Sprintf("intake:%s:idx", sessionID), strconv.Itoa(next))
}

// fact is one interview question with its recorded answer.
type fact struct {
	question string
	answer   string
}

// collectFacts returns every catalog question in order. Unanswered required
// questions read 未提供, optional ones 可补充, so the report renders a full
// checklist either way.
func collectFacts(ctx context.Context, st store.Store, sessionID, scenario string) ([]fact, error) {
	questions := tools.IntakeQuestions(scenario)
	keys := make([]string, len(questions))
	for idx := range questions {
		keys[idx] = fmt.Sprintf("intake:%s:answer:%d", sessionID, idx)
	}
	answers, err := st.GetSettings(ctx, keys)
	if err != nil {
		return nil, err
	}

	facts := make([]fact, 0, len(questions))
	for idx, q := range questions {
		answer := answers[keys[idx]]
		if strings.TrimSpace(answer) == "" {
			if q.Required {
				answer = "未提供"
			} else {
				answer = "可补充"
			}
		}
		facts = append(facts, fact{question: q.Text, answer: answer})
	}
	return facts, nil
}

func formatFactsSummary(facts []fact) string {
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- %s：%s", f.question, f.answer))
	}
	return strings.Join(lines, "\n")
}

// intakeAcks rotate by question index so consecutive confirmations read
// differently.
var intakeAcks = [4]string{
	"收到，这条信息很有帮助。",
	"明白了，我已经记下这一点。",
	"好的，信息很关键，继续下一题。",
	"了解，感谢补充，我们再确认下一项。",
}

func intakeAck(answeredIndex int, answer string) string {
	if strings.Contains(answer, "（用户跳过此题）") || strings.Contains(answer, "跳过") {
		return "好的，这题先记为待补充，不影响我们继续往下走。"
	}
	return intakeAcks[answeredIndex%len(intakeAcks)]
}
