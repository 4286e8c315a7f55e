// Package discord drives consultations from Discord DMs and guild channels.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/golaw/engine"
	"github.com/nextlevelbuilder/golaw/internal/channels"
	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
	"github.com/nextlevelbuilder/golaw/pkg/protocol"
)

const (
	// sendMaxLen is the Discord message size limit.
	sendMaxLen = 2000

	defaultPrefix = "!"
)

const helpText = `这里是劳动法咨询助手。直接发送文字描述您遇到的情况，我会逐条收集关键信息，然后检索法规生成一份咨询报告。

命令（前缀可配置）：
%[1]snew — 开始新的咨询会话
%[1]sreport — 查看本会话的最新报告
%[1]scancel — 取消正在进行的分析
%[1]shelp — 显示本说明

当助手请求调用工具时，回复 allow（允许一次）、always（总是允许）、all（本会话全部允许）或 deny（拒绝）。`

// Channel connects to the Discord gateway. Each Discord channel id is bound
// to one engine session; in guilds the bot only reacts when mentioned.
type Channel struct {
	*channels.BaseChannel
	session  *discordgo.Session
	cfg      config.DiscordConfig
	engine   *engine.Engine
	runs     *channels.Manager
	throttle *channels.SenderThrottle
	logger   *slog.Logger

	botUserID string
	approvals sync.Map // chat key → pending request id
}

// New creates the channel. The token is only validated when Start connects.
func New(cfg config.DiscordConfig, eng *engine.Engine, mgr *channels.Manager, logger *slog.Logger) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfig, "create discord session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord"),
		session:     session,
		cfg:         cfg,
		engine:      eng,
		runs:        mgr,
		throttle:    channels.NewSenderThrottle(),
		logger:      logger,
	}, nil
}

// Start opens the gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return errdefs.Wrap(errdefs.KindConfig, "open discord session", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return errdefs.Wrap(errdefs.KindConfig, "fetch discord bot identity", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	c.logger.Info("discord channel connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) prefix() string {
	if c.cfg.CommandPrefix != "" {
		return c.cfg.CommandPrefix
	}
	return defaultPrefix
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}
	if !c.throttle.Allow(m.Author.ID) {
		c.logger.Debug("discord sender throttled", "user_id", m.Author.ID)
		return
	}

	chatKey := m.ChannelID
	isDM := m.GuildID == ""
	content := strings.TrimSpace(m.Content)

	// In guilds the bot only reacts when mentioned; the mention token is
	// stripped before the text reaches the consultation.
	if !isDM {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		content = stripMention(content, c.botUserID)
	}

	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[附件：%s]", att.URL)
	}
	if content == "" {
		return
	}

	c.logger.Debug("discord message received",
		"channel_id", chatKey,
		"user_id", m.Author.ID,
		"is_dm", isDM,
		"preview", channels.Truncate(content, 40),
	)

	ctx := context.Background()

	// A pending approval claims the next allow/always/all/deny reply.
	if reqID, ok := c.approvals.Load(chatKey); ok {
		if decision, matched := parseApprovalWord(content); matched {
			c.approvals.Delete(chatKey)
			c.respondApproval(ctx, chatKey, reqID.(string), decision)
			return
		}
	}

	if strings.HasPrefix(content, c.prefix()) {
		c.handleCommand(ctx, chatKey, strings.TrimPrefix(content, c.prefix()))
		return
	}
	c.consult(ctx, chatKey, content)
}

// stripMention removes the bot mention tokens Discord embeds in the text.
func stripMention(content, botUserID string) string {
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botUserID+">", "")
	return strings.TrimSpace(content)
}

// parseApprovalWord maps a reply keyword to a tool decision.
func parseApprovalWord(content string) (protocol.ToolDecision, bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "allow":
		return protocol.ToolDecision{Action: protocol.ToolAllow}, true
	case "always":
		return protocol.ToolDecision{Action: protocol.ToolAllow, Always: true}, true
	case "all":
		return protocol.ToolDecision{Action: protocol.ToolAllowAllSession}, true
	case "deny":
		return protocol.ToolDecision{Action: protocol.ToolDeny}, true
	}
	return protocol.ToolDecision{}, false
}

func (c *Channel) respondApproval(ctx context.Context, chatKey, requestID string, decision protocol.ToolDecision) {
	ack := map[protocol.ToolAction]string{
		protocol.ToolAllow:           "已允许本次调用。",
		protocol.ToolAllowAllSession: "本会话将不再询问。",
		protocol.ToolDeny:            "已拒绝本次调用。",
	}[decision.Action]
	if decision.Always {
		ack = "已永久允许该工具。"
	}

	if err := c.engine.RespondToolCall(ctx, requestID, decision); err != nil {
		if errdefs.IsNotFound(err) {
			ack = "该请求已处理或已过期。"
		} else {
			ack = "处理失败：" + err.Error()
		}
	}
	c.sendText(chatKey, ack)
}

func (c *Channel) handleCommand(ctx context.Context, chatKey, cmd string) {
	cmd = strings.ToLower(strings.SplitN(strings.TrimSpace(cmd), " ", 2)[0])

	switch cmd {
	case "help", "start":
		c.sendText(chatKey, fmt.Sprintf(helpText, c.prefix()))

	case "new":
		id, err := c.bindFreshSession(ctx, chatKey)
		if err != nil {
			c.sendText(chatKey, "新建会话失败："+err.Error())
			return
		}
		c.logger.Info("discord session rebound", "channel_id", chatKey, "session_id", id)
		c.sendText(chatKey, "已开始新的咨询。请描述您遇到的劳动纠纷。")

	case "report":
		c.sendReport(ctx, chatKey)

	case "cancel":
		taskID, ok := c.runs.ActiveTask(c.Name(), chatKey)
		if !ok {
			c.sendText(chatKey, "当前没有正在进行的分析。")
			return
		}
		if err := c.engine.CancelAgentTask(taskID); err != nil {
			c.sendText(chatKey, "取消失败："+err.Error())
		}

	default:
		c.sendText(chatKey, "未知命令，发送 "+c.prefix()+"help 查看用法。")
	}
}

func (c *Channel) sendReport(ctx context.Context, chatKey string) {
	sessionID, err := c.sessionFor(ctx, chatKey)
	if err != nil {
		c.sendText(chatKey, "会话查询失败："+err.Error())
		return
	}
	report, err := c.engine.GenerateReport(ctx, sessionID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			c.sendText(chatKey, "本会话还没有生成报告，请先完成一次完整咨询。")
			return
		}
		c.sendText(chatKey, "报告查询失败："+err.Error())
		return
	}
	c.sendText(chatKey, report)
}

// consult submits text as the user's next turn and tracks the resulting
// task so engine events flow back to this Discord channel.
func (c *Channel) consult(ctx context.Context, chatKey, text string) {
	sessionID, err := c.sessionFor(ctx, chatKey)
	if err != nil {
		c.logger.Error("discord session lookup failed", "channel_id", chatKey, "error", err)
		c.sendText(chatKey, "会话初始化失败，请稍后再试。")
		return
	}

	_ = c.session.ChannelTyping(chatKey)

	taskID, err := c.engine.SendMessage(ctx, sessionID, text)
	if err != nil {
		c.logger.Error("discord turn rejected", "channel_id", chatKey, "error", err)
		c.sendText(chatKey, "消息处理失败："+err.Error())
		return
	}
	c.runs.TrackRun(taskID, c.Name(), chatKey)
}

// sessionFor returns the engine session bound to a Discord channel, creating
// and binding one on first contact.
func (c *Channel) sessionFor(ctx context.Context, chatKey string) (string, error) {
	id, ok, err := c.engine.GetSetting(ctx, bindingKey(chatKey))
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		if _, err := c.engine.GetSession(ctx, id); err == nil {
			return id, nil
		}
	}
	return c.bindFreshSession(ctx, chatKey)
}

func (c *Channel) bindFreshSession(ctx context.Context, chatKey string) (string, error) {
	sess, err := c.engine.CreateSession(ctx, "labor", "Discord 咨询 "+chatKey)
	if err != nil {
		return "", err
	}
	if err := c.engine.SetSetting(ctx, bindingKey(chatKey), sess.ID); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// bindingKey is the settings key that maps a Discord channel to its session.
func bindingKey(chatKey string) string {
	return "channel:discord:" + chatKey
}

// OnEngineEvent renders engine progress into the chat that started the run.
// Intake turns publish both intake_progress and completed; only completed is
// rendered because its Message already contains the formatted question.
func (c *Channel) OnEngineEvent(_ context.Context, chatKey string, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventAgentPhase:
		_ = c.session.ChannelTyping(chatKey)

	case protocol.EventIntakeDone:
		c.sendText(chatKey, "信息已收齐，正在检索法规并起草报告，请稍候……")

	case protocol.EventToolCallRequest:
		var p protocol.ToolCallRequestPayload
		if json.Unmarshal([]byte(ev.Payload), &p) != nil {
			return
		}
		c.approvals.Store(chatKey, p.RequestID)
		c.sendText(chatKey, fmt.Sprintf(
			"咨询助手请求调用工具：%s\n回复 allow（允许一次）、always（总是允许）、all（本会话全部允许）或 deny（拒绝）。",
			p.ToolName,
		))

	case protocol.EventCompleted:
		var p protocol.CompletedPayload
		if json.Unmarshal([]byte(ev.Payload), &p) != nil {
			return
		}
		if p.Report != "" {
			c.sendText(chatKey, p.Report)
		} else if p.Message != "" {
			c.sendText(chatKey, p.Message)
		}

	case protocol.EventCancelling:
		c.sendText(chatKey, "正在取消……")

	case protocol.EventCancelled:
		c.approvals.Delete(chatKey)
		c.sendText(chatKey, "已取消本次分析。")

	case protocol.EventError:
		var p protocol.ErrorPayload
		if json.Unmarshal([]byte(ev.Payload), &p) != nil {
			return
		}
		c.approvals.Delete(chatKey)
		c.sendText(chatKey, "处理失败："+p.Message)
	}
}

// sendText delivers text to a Discord channel, splitting at the API limit.
func (c *Channel) sendText(chatKey, text string) {
	for _, part := range channels.SplitMessage(text, sendMaxLen) {
		if _, err := c.session.ChannelMessageSend(chatKey, part); err != nil {
			c.logger.Warn("discord send failed", "channel_id", chatKey, "error", err)
			return
		}
	}
}
