package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/golaw/internal/channels"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

// OnEngineEvent renders engine progress into the chat that started the run.
// The manager dispatcher serializes calls, so replies keep worker order.
//
// Intake turns publish both intake_progress and completed; only completed is
// rendered because its Message already contains the formatted question.
func (c *Channel) OnEngineEvent(ctx context.Context, chatKey string, ev protocol.Event) {
	chatID, err := strconv.ParseInt(chatKey, 10, 64)
	if err != nil {
		c.logger.Warn("telegram chat key not numeric", "chat_key", chatKey)
		return
	}

	switch ev.Kind {
	case protocol.EventAgentPhase:
		// Each phase is followed by a long model call.
		c.typing(ctx, chatID)

	case protocol.EventIntakeDone:
		c.sendText(ctx, chatID, "信息已收齐，正在检索法规并起草报告，请稍候……")

	case protocol.EventToolCallRequest:
		var p protocol.ToolCallRequestPayload
		if decode(ev.Payload, &p) {
			c.sendApprovalPrompt(ctx, chatID, p)
		}

	case protocol.EventCompleted:
		var p protocol.CompletedPayload
		if !decode(ev.Payload, &p) {
			return
		}
		if p.Report != "" {
			c.sendText(ctx, chatID, p.Report)
		} else if p.Message != "" {
			c.sendText(ctx, chatID, p.Message)
		}

	case protocol.EventCancelling:
		c.sendText(ctx, chatID, "正在取消……")

	case protocol.EventCancelled:
		c.sendText(ctx, chatID, "已取消本次分析。")

	case protocol.EventError:
		var p protocol.ErrorPayload
		if decode(ev.Payload, &p) {
			c.sendText(ctx, chatID, "处理失败："+p.Message)
		}
	}
}

// sendApprovalPrompt posts the inline keyboard for a pending tool call. The
// engine blocks the run until one of the buttons answers the request.
func (c *Channel) sendApprovalPrompt(ctx context.Context, chatID int64, p protocol.ToolCallRequestPayload) {
	text := "咨询助手请求调用工具：" + p.ToolName
	if args := formatArguments(p.Arguments); args != "" {
		text += "\n参数：" + args
	}
	text += "\n请选择："

	keyboard := tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("允许一次").WithCallbackData(approvalCallbackData(cbAllow, p.RequestID)),
			tu.InlineKeyboardButton("总是允许").WithCallbackData(approvalCallbackData(cbAlways, p.RequestID)),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("本会话全部允许").WithCallbackData(approvalCallbackData(cbAllSession, p.RequestID)),
			tu.InlineKeyboardButton("拒绝").WithCallbackData(approvalCallbackData(cbDeny, p.RequestID)),
		),
	)

	msg := tu.Message(tu.ID(chatID), text).WithReplyMarkup(keyboard)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		c.logger.Warn("telegram approval prompt failed", "chat_id", chatID, "error", err)
	}
}

// formatArguments renders tool arguments compactly for the approval prompt.
func formatArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || len(args) == 0 {
		return ""
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return channels.Truncate(strings.Join(parts, ", "), 200)
}

func decode(payload string, v any) bool {
	return json.Unmarshal([]byte(payload), v) == nil
}
