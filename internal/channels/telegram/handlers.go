package telegram

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/golaw/internal/channels"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const helpText = `这里是劳动法咨询助手。直接发送文字描述您遇到的情况，我会逐条收集关键信息，然后检索法规生成一份咨询报告。

命令：
/new — 开始新的咨询会话
/report — 查看本会话的最新报告
/cancel — 取消正在进行的分析
/help — 显示本说明

也可以直接发送证据照片（如劳动合同、工资条），我会保存为咨询材料。`

// handleMessage processes one incoming update: allowlist and throttle first,
// then photos, commands, and finally plain consultation text.
func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	chatID := msg.Chat.ID
	if !c.chatAllowed(chatID) {
		c.logger.Debug("telegram chat rejected by allowlist", "chat_id", chatID)
		return
	}
	if !c.throttle.Allow(strconv.FormatInt(msg.From.ID, 10)) {
		c.logger.Debug("telegram sender throttled", "user_id", msg.From.ID)
		return
	}

	c.logger.Debug("telegram message received",
		"chat_id", chatID,
		"user_id", msg.From.ID,
		"preview", channels.Truncate(msg.Text, 40),
	)

	if len(msg.Photo) > 0 {
		c.handlePhoto(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		c.handleCommand(ctx, chatID, text)
		return
	}
	c.consult(ctx, chatID, text)
}

// chatAllowed applies the allowed_chats filter. An empty list admits everyone.
func (c *Channel) chatAllowed(chatID int64) bool {
	if len(c.cfg.AllowedChats) == 0 {
		return true
	}
	return slices.Contains(c.cfg.AllowedChats, chatID)
}

// consult submits text as the user's next turn and tracks the resulting task
// so engine events flow back to this chat.
func (c *Channel) consult(ctx context.Context, chatID int64, text string) {
	sessionID, err := c.sessionFor(ctx, chatID)
	if err != nil {
		c.logger.Error("telegram session lookup failed", "chat_id", chatID, "error", err)
		c.sendText(ctx, chatID, "会话初始化失败，请稍后再试。")
		return
	}

	c.typing(ctx, chatID)

	taskID, err := c.engine.SendMessage(ctx, sessionID, text)
	if err != nil {
		c.logger.Error("telegram turn rejected", "chat_id", chatID, "error", err)
		c.sendText(ctx, chatID, "消息处理失败："+err.Error())
		return
	}
	c.runs.TrackRun(taskID, c.Name(), strconv.FormatInt(chatID, 10))
}

// sessionFor returns the engine session bound to a chat, creating and
// binding one on first contact. A binding whose session was deleted through
// another surface is replaced.
func (c *Channel) sessionFor(ctx context.Context, chatID int64) (string, error) {
	id, ok, err := c.engine.GetSetting(ctx, bindingKey(chatID))
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		if _, err := c.engine.GetSession(ctx, id); err == nil {
			return id, nil
		}
	}
	return c.bindFreshSession(ctx, chatID)
}

func (c *Channel) bindFreshSession(ctx context.Context, chatID int64) (string, error) {
	sess, err := c.engine.CreateSession(ctx, "labor", fmt.Sprintf("Telegram 咨询 %d", chatID))
	if err != nil {
		return "", err
	}
	if err := c.engine.SetSetting(ctx, bindingKey(chatID), sess.ID); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// bindingKey is the settings key that maps a chat to its session.
func bindingKey(chatID int64) string {
	return fmt.Sprintf("channel:telegram:%d", chatID)
}

func (c *Channel) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd := strings.SplitN(text, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]

	switch strings.ToLower(cmd) {
	case "/start", "/help":
		c.sendText(ctx, chatID, helpText)

	case "/new":
		id, err := c.bindFreshSession(ctx, chatID)
		if err != nil {
			c.sendText(ctx, chatID, "新建会话失败："+err.Error())
			return
		}
		c.logger.Info("telegram session rebound", "chat_id", chatID, "session_id", id)
		c.sendText(ctx, chatID, "已开始新的咨询。请描述您遇到的劳动纠纷。")

	case "/report":
		c.sendReport(ctx, chatID)

	case "/cancel":
		taskID, ok := c.runs.ActiveTask(c.Name(), strconv.FormatInt(chatID, 10))
		if !ok {
			c.sendText(ctx, chatID, "当前没有正在进行的分析。")
			return
		}
		if err := c.engine.CancelAgentTask(taskID); err != nil {
			c.sendText(ctx, chatID, "取消失败："+err.Error())
		}
		// The cancelled event confirms once the worker actually stops.

	default:
		c.sendText(ctx, chatID, "未知命令，发送 /help 查看用法。")
	}
}

func (c *Channel) sendReport(ctx context.Context, chatID int64) {
	sessionID, err := c.sessionFor(ctx, chatID)
	if err != nil {
		c.sendText(ctx, chatID, "会话查询失败："+err.Error())
		return
	}
	report, err := c.engine.GenerateReport(ctx, sessionID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			c.sendText(ctx, chatID, "本会话还没有生成报告，请先完成一次完整咨询。")
			return
		}
		c.sendText(ctx, chatID, "报告查询失败："+err.Error())
		return
	}
	c.sendText(ctx, chatID, report)
}

// Approval callback data is "a:{action}:{request_id}". Telegram caps
// callback data at 64 bytes, so the action uses the short vocabulary below.
const (
	cbAllow      = "allow"
	cbAlways     = "always"
	cbAllSession = "all"
	cbDeny       = "deny"
)

func approvalCallbackData(action, requestID string) string {
	return "a:" + action + ":" + requestID
}

func parseApprovalCallback(data string) (action, requestID string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "a" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// handleCallback answers an approval button press by resolving the pending
// tool request, then drops the keyboard so the prompt cannot fire twice.
func (c *Channel) handleCallback(ctx context.Context, cq *telego.CallbackQuery) {
	action, requestID, ok := parseApprovalCallback(cq.Data)
	if !ok {
		c.answerCallback(ctx, cq.ID, "")
		return
	}

	decision := protocol.ToolDecision{Action: protocol.ToolAllow}
	ack := "已允许本次调用"
	switch action {
	case cbAllow:
	case cbAlways:
		decision.Always = true
		ack = "已永久允许该工具"
	case cbAllSession:
		decision.Action = protocol.ToolAllowAllSession
		ack = "本会话将不再询问"
	case cbDeny:
		decision.Action = protocol.ToolDeny
		ack = "已拒绝本次调用"
	default:
		c.answerCallback(ctx, cq.ID, "")
		return
	}

	if err := c.engine.RespondToolCall(ctx, requestID, decision); err != nil {
		if errdefs.IsNotFound(err) {
			ack = "该请求已处理或已过期"
		} else {
			ack = "处理失败：" + err.Error()
		}
	}
	c.answerCallback(ctx, cq.ID, ack)

	if cq.Message != nil {
		_, _ = c.bot.EditMessageReplyMarkup(ctx, &telego.EditMessageReplyMarkupParams{
			ChatID:    tu.ID(cq.Message.GetChat().ID),
			MessageID: cq.Message.GetMessageID(),
		})
	}
}

func (c *Channel) answerCallback(ctx context.Context, id, text string) {
	err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: id,
		Text:            text,
	})
	if err != nil {
		c.logger.Debug("telegram callback answer failed", "error", err)
	}
}
