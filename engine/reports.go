package engine

import (
	"context"
	"os"
	"strings"

	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const regeneratePrompt = "请基于已收集的事实重新生成一版完整法律咨询报告。"

// GenerateReport returns the latest consultation report for a session.
// It prefers the newest assistant message persisted in the review phase
// and falls back to any assistant message that carries the report
// section markers, which covers transcripts imported from older schema
// versions where the phase column was absent.
func (e *Engine) GenerateReport(ctx context.Context, sessionID string) (string, error) {
	msgs, err := e.store.GetMessages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == protocol.RoleAssistant && msgs[i].Phase == protocol.PhaseReview {
			return msgs[i].Content, nil
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != protocol.RoleAssistant {
			continue
		}
		if strings.Contains(msgs[i].Content, "【事实摘要】") && strings.Contains(msgs[i].Content, "【免责声明】") {
			return msgs[i].Content, nil
		}
	}
	return "", errdefs.Newf(errdefs.KindNotFound, "report for session %s", sessionID)
}

// ExportReportMarkdown writes the session's report to path. The export is
// recorded in the operation log on a best effort basis.
func (e *Engine) ExportReportMarkdown(ctx context.Context, sessionID, path string) error {
	report, err := e.GenerateReport(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, "write markdown failed", err)
	}
	if _, err := e.store.AppendLog(ctx, "info", "report exported: "+path, sessionID); err != nil {
		e.logger.Warn("append export log failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// RegenerateReport starts a fresh agent run that rebuilds the report from
// the facts already collected. It returns the new task id.
func (e *Engine) RegenerateReport(ctx context.Context, sessionID string) (string, error) {
	e.publish(protocol.EventReportRegenerating, protocol.EncodePayload(protocol.ReportRegeneratingPayload{SessionID: sessionID}))
	return e.SendMessage(ctx, sessionID, regeneratePrompt)
}
