// Package agent runs one consultation turn at a time: it walks the intake
// interview, drafts a report from knowledge base hits, then passes the draft
// through safety review before persisting it. Tool invocations go through a
// permission gate that can block on a host decision.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/golaw/internal/bus"
	"github.com/nextlevelbuilder/golaw/internal/safety"
	"github.com/nextlevelbuilder/golaw/internal/scheduler"
	"github.com/nextlevelbuilder/golaw/internal/store"
	"github.com/nextlevelbuilder/golaw/internal/tools"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/golaw/internal/agent")

// approvalPollInterval is how often a blocked worker rechecks its
// cancellation flag while waiting for a tool decision.
const approvalPollInterval = 300 * time.Millisecond

// Worker executes one user turn for one session. Workers for the same
// session are serialized by the engine's session locks; the worker itself
// only checks its own cancellation flag.
type Worker struct {
	taskID      string
	sessionID   string
	scenario    string
	userContent string

	maxIterations int

	store    store.Store
	tools    *tools.Registry
	bus      *bus.Bus
	pending  *Pending
	allowAll *AllowAllSessions
	control  *scheduler.Control
}

// WorkerConfig carries one turn's identity and the shared engine state.
type WorkerConfig struct {
	TaskID      string
	SessionID   string
	Scenario    string
	UserContent string

	MaxIterations int

	Store    store.Store
	Tools    *tools.Registry
	Bus      *bus.Bus
	Pending  *Pending
	AllowAll *AllowAllSessions
	Control  *scheduler.Control
}

func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{
		taskID:        cfg.TaskID,
		sessionID:     cfg.SessionID,
		scenario:      cfg.Scenario,
		userContent:   cfg.UserContent,
		maxIterations: cfg.MaxIterations,
		store:         cfg.Store,
		tools:         cfg.Tools,
		bus:           cfg.Bus,
		pending:       cfg.Pending,
		allowAll:      cfg.AllowAll,
		control:       cfg.Control,
	}
}

// Run drives the turn to completion. Cancellation surfaces as
// errdefs.ErrCancelled; other failures keep their kinds so the caller can
// shape the error event.
func (w *Worker) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("task.id", w.taskID),
		attribute.String("session.id", w.sessionID),
		attribute.String("scenario", w.scenario),
	))
	defer span.End()

	err := w.runIteration(ctx, 1)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (w *Worker) runIteration(ctx context.Context, iteration int) error {
	if iteration > w.maxIterations {
		return errdefs.Newf(errdefs.KindUnknown, "max_iterations exceeded: %d", w.maxIterations)
	}

	if err := w.guardNotCancelled(); err != nil {
		return err
	}

	w.emitPhase(phasePlanning)

	state, err := loadIntakeState(ctx, w.store, w.sessionID, w.scenario)
	if err != nil {
		return err
	}
	if !state.done {
		return w.handleIntake(ctx, iteration, state)
	}

	w.emitPhase(phaseDrafting)

	facts, err := collectFacts(ctx, w.store, w.sessionID, w.scenario)
	if err != nil {
		return err
	}
	factsMap := make(map[string]any, len(facts))
	for _, f := range facts {
		factsMap[f.question] = f.answer
	}
	summaryVal, err := w.executeTool(ctx, "summarize_facts", map[string]any{"facts": factsMap})
	if err != nil {
		return err
	}
	factsSummary := stringField(summaryVal, "summary")
	if factsSummary == "" {
		factsSummary = formatFactsSummary(facts)
	}

	queryText := "劳动仲裁"
	if strings.TrimSpace(w.userContent) != "" {
		queryText = "劳动仲裁 " + w.userContent
	}
	searchVal, err := w.executeTool(ctx, "kb_search", map[string]any{
		"query":    queryText,
		"scenario": w.scenario,
		"top_k":    3,
	})
	if err != nil {
		return err
	}
	searchResults, ok := searchVal.([]protocol.SearchResult)
	if !ok {
		return errdefs.Newf(errdefs.KindUnknown, "parse search result failed: unexpected payload %T", searchVal)
	}

	var legalAnalysis string
	if len(searchResults) == 0 {
		legalAnalysis = "当前未检索到足够的法规条文。建议补充案情细节（时间、金额、证据）后再生成一次分析。"
	} else {
		references := make([]string, 0, 3)
		for idx, item := range searchResults {
			if idx == 3 {
				break
			}
			references = append(references, fmt.Sprintf(
				"%d. 《%s》提到：%s",
				idx+1, strings.TrimSpace(item.Title), strings.ReplaceAll(item.Snippet, "\n", " "),
			))
		}
		legalAnalysis = fmt.Sprintf(
			"结合知识库中的条文信息，现阶段可以先这样理解：\n%s\n\n以上为通用分析，最终判断仍要结合当地裁审口径和证据完整度。",
			strings.Join(references, "\n"),
		)
	}

	citationSources := make([]any, 0, 3)
	for idx, item := range searchResults {
		if idx == 3 {
			break
		}
		citationSources = append(citationSources, map[string]any{
			"file_path":  item.FilePath,
			"line_start": item.LineStart,
			"line_end":   item.LineEnd,
		})
	}
	citeVal, err := w.executeTool(ctx, "cite", map[string]any{"sources": citationSources})
	if err != nil {
		return err
	}
	citations := stringField(citeVal, "citations")

	riskVal, err := w.executeTool(ctx, "suggest_escalation", map[string]any{"content": w.userContent})
	if err != nil {
		return err
	}
	riskMessage := stringField(riskVal, "message")
	if riskMessage == "" {
		riskMessage = "本回答基于你当前提供的信息，存在不确定性；若金额较大或争议复杂，建议尽快咨询执业律师。"
	}

	draft := BuildReport(
		factsSummary,
		legalAnalysis+"\n\n【引用】\n"+citations,
		laborProcessPath,
		riskMessage,
	)

	w.emitPhase(phaseReviewing)

	safetyVal, err := w.executeTool(ctx, "check_safety", map[string]any{"content": draft})
	if err != nil {
		return err
	}
	result, ok := safetyVal.(safety.CheckResult)
	if !ok {
		result = safety.CheckResult{ModifiedContent: stringField(safetyVal, "modified_content")}
	}

	criticalCount := 0
	for _, issue := range result.Issues {
		if issue.Severity == safety.SeverityCritical {
			criticalCount++
		}
	}
	if len(result.Issues) > 0 {
		kind := protocol.EventReviewAdjusted
		if result.HasCritical {
			kind = protocol.EventReviewIntercepted
		}
		w.publish(kind, protocol.EncodePayload(protocol.ReviewPayload{
			TaskID:        w.taskID,
			SessionID:     w.sessionID,
			IssueCount:    len(result.Issues),
			CriticalCount: criticalCount,
		}))
		slog.Info("safety review flagged draft",
			"session_id", w.sessionID, "issues", len(result.Issues), "critical", criticalCount)
	}

	finalReport := result.ModifiedContent
	if result.HasCritical {
		finalReport = fmt.Sprintf("【安全审查】\n检测到 %d 处高风险表述，已自动拦截并改写。\n\n%s", criticalCount, finalReport)
	}

	if err := w.guardNotCancelled(); err != nil {
		return err
	}
	if _, err := w.store.CreateMessage(ctx, w.sessionID, protocol.RoleAssistant, finalReport, protocol.PhaseReview, ""); err != nil {
		return err
	}

	w.publish(protocol.EventCompleted, protocol.EncodePayload(protocol.CompletedPayload{
		TaskID:    w.taskID,
		SessionID: w.sessionID,
		Report:    finalReport,
	}))
	return nil
}

// handleIntake serves the interview: ask the first question, or record the
// answer to the previous one and ask the next. When the catalog is
// exhausted the interview is closed and the drafting iteration starts.
func (w *Worker) handleIntake(ctx context.Context, iteration int, state intakeState) error {
	if state.currentIndex == 0 {
		first, err := w.executeTool(ctx, "ask_user", map[string]any{"scenario": w.scenario, "index": 0})
		if err != nil {
			return err
		}
		if err := startIntake(ctx, w.store, w.sessionID); err != nil {
			return err
		}

		question := stringField(first, "question")
		if question == "" {
			question = "请描述您的情况"
		}
		total := intField(first, "total", 1)
		text := fmt.Sprintf(
			"我先帮你把案情梳理清楚，接下来会问你 %d 个小问题。\n你按知道的回答就可以，不确定也可以说“暂不清楚”。\n\n进度：1/%d\n\n第 1 题：%s",
			total, total, question,
		)

		if _, err := w.store.CreateMessage(ctx, w.sessionID, protocol.RoleAssistant, text, protocol.PhaseDraft, ""); err != nil {
			return err
		}

		w.publish(protocol.EventIntakeProgress, protocol.EncodePayload(protocol.IntakeProgressPayload{
			TaskID:   w.taskID,
			Current:  1,
			Total:    total,
			Question: question,
		}))
		w.publish(protocol.EventCompleted, protocol.EncodePayload(protocol.CompletedPayload{
			TaskID:    w.taskID,
			SessionID: w.sessionID,
			Message:   text,
		}))
		return nil
	}

	answeredIndex := state.currentIndex - 1
	if err := saveAnswer(ctx, w.store, w.sessionID, answeredIndex, w.userContent); err != nil {
		return err
	}

	if state.currentIndex < len(state.questions) {
		next, err := w.executeTool(ctx, "ask_user", map[string]any{"scenario": w.scenario, "index": state.currentIndex})
		if err != nil {
			return err
		}
		question := stringField(next, "question")
		if question == "" {
			question = "请继续补充信息"
		}
		current := intField(next, "current", state.currentIndex+1)
		total := intField(next, "total", len(state.questions))

		if err := advanceIntakeIndex(ctx, w.store, w.sessionID, state.currentIndex+1); err != nil {
			return err
		}

		text := fmt.Sprintf(
			"%s\n\n进度：%d/%d\n\n下一题：%s",
			intakeAck(answeredIndex, w.userContent), current, total, question,
		)
		if _, err := w.store.CreateMessage(ctx, w.sessionID, protocol.RoleAssistant, text, protocol.PhaseDraft, ""); err != nil {
			return err
		}

		w.publish(protocol.EventIntakeProgress, protocol.EncodePayload(protocol.IntakeProgressPayload{
			TaskID:   w.taskID,
			Current:  current,
			Total:    total,
			Question: question,
		}))
		w.publish(protocol.EventCompleted, protocol.EncodePayload(protocol.CompletedPayload{
			TaskID:    w.taskID,
			SessionID: w.sessionID,
			Message:   text,
		}))
		return nil
	}

	if err := markIntakeDone(ctx, w.store, w.sessionID); err != nil {
		return err
	}
	w.publish(protocol.EventIntakeDone, protocol.EncodePayload(protocol.IntakeDonePayload{
		TaskID:    w.taskID,
		SessionID: w.sessionID,
	}))
	return w.runIteration(ctx, iteration+1)
}

// executeTool runs one registry tool behind the permission gate. Tools at
// "ask" block until the host answers or the task is cancelled; "deny" fails
// the run without prompting.
func (w *Worker) executeTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if err := w.guardNotCancelled(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "tool.exec", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	permission, err := w.store.GetToolPermission(ctx, name)
	if err != nil {
		return nil, err
	}
	if permission == protocol.PermissionAsk && w.allowAll.Contains(w.sessionID) {
		permission = protocol.PermissionAllow
	}

	switch permission {
	case protocol.PermissionDeny:
		return nil, errdefs.Newf(errdefs.KindTool, "tool %s is denied", name)
	case protocol.PermissionAsk:
		decision, err := w.awaitApproval(ctx, name, args)
		if err != nil {
			return nil, err
		}
		switch decision.Action {
		case protocol.ToolAllow:
			if decision.Always {
				if err := w.store.SetToolPermission(ctx, name, protocol.PermissionAllow); err != nil {
					return nil, err
				}
			}
		case protocol.ToolAllowAllSession:
			w.allowAll.Add(w.sessionID)
		case protocol.ToolDeny:
			return nil, errdefs.Newf(errdefs.KindTool, "tool %s denied by user", name)
		}
	}

	result, err := w.tools.Run(ctx, name, args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	raw, _ := json.Marshal(result)
	w.publish(protocol.EventToolCallResult, protocol.EncodePayload(protocol.ToolCallResultPayload{
		TaskID:   w.taskID,
		ToolName: name,
		Result:   raw,
	}))
	return result, nil
}

// awaitApproval publishes a tool_call_request, then polls between the
// response channel and the cancellation flag. The pending entry is removed
// on every exit path that does not consume a response, so a cancelled run
// never leaves a prompt that a late answer could feed.
func (w *Worker) awaitApproval(ctx context.Context, name string, args map[string]any) (protocol.ToolDecision, error) {
	requestID := uuid.NewString()
	ch := make(chan protocol.ToolDecision, 1)
	w.pending.Add(requestID, &PendingCall{Response: ch, SessionID: w.sessionID, ToolName: name})

	rawArgs, _ := json.Marshal(args)
	w.publish(protocol.EventToolCallRequest, protocol.EncodePayload(protocol.ToolCallRequestPayload{
		TaskID:    w.taskID,
		RequestID: requestID,
		ToolName:  name,
		Arguments: rawArgs,
	}))
	slog.Info("tool approval requested",
		"tool", name, "request_id", requestID, "session_id", w.sessionID)

	for {
		if err := w.guardNotCancelled(); err != nil {
			w.pending.Remove(requestID)
			return protocol.ToolDecision{}, err
		}
		select {
		case decision := <-ch:
			return decision, nil
		case <-ctx.Done():
			w.pending.Remove(requestID)
			return protocol.ToolDecision{}, errdefs.ErrCancelled
		case <-time.After(approvalPollInterval):
		}
	}
}

func (w *Worker) guardNotCancelled() error {
	if w.control.IsCancelled() {
		return errdefs.ErrCancelled
	}
	return nil
}

func (w *Worker) emitPhase(phase string) {
	w.publish(protocol.EventAgentPhase, protocol.EncodePayload(protocol.AgentPhasePayload{
		TaskID: w.taskID,
		Phase:  phase,
	}))
}

func (w *Worker) publish(kind, payload string) {
	w.bus.Publish(protocol.NewEvent(kind, payload))
}

// stringField reads a string key from a tool result when the result is an
// object; anything else yields "".
func stringField(v any, key string) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intField(v any, key string, fallback int) int {
	m, ok := v.(map[string]any)
	if !ok {
		return fallback
	}
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
