// Package telegram drives consultations from Telegram chats over the Bot API.
package telegram

import (
	"context"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/golaw/engine"
	"github.com/nextlevelbuilder/golaw/internal/channels"
	"github.com/nextlevelbuilder/golaw/internal/config"
	"github.com/nextlevelbuilder/golaw/pkg/errdefs"
)

const (
	// sendMaxLen is the Bot API message size limit.
	sendMaxLen = 4096

	pollTimeoutSeconds = 30
	stopWait           = 10 * time.Second
)

// Channel long-polls the Telegram Bot API. Each chat is bound to one engine
// session, created lazily on first contact and replaced by /new.
type Channel struct {
	*channels.BaseChannel
	bot      *telego.Bot
	cfg      config.TelegramConfig
	engine   *engine.Engine
	runs     *channels.Manager
	throttle *channels.SenderThrottle
	logger   *slog.Logger

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the channel. The token is only validated when Start connects.
func New(cfg config.TelegramConfig, eng *engine.Engine, mgr *channels.Manager, logger *slog.Logger) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfig, "create telegram bot", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram"),
		bot:         bot,
		cfg:         cfg,
		engine:      eng,
		runs:        mgr,
		throttle:    channels.NewSenderThrottle(),
		logger:      logger,
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        pollTimeoutSeconds,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return errdefs.Wrap(errdefs.KindConfig, "start telegram long polling", err)
	}

	c.SetRunning(true)
	c.logger.Info("telegram channel connected", "username", c.bot.Username())

	go c.syncMenuCommands(pollCtx)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					c.logger.Info("telegram updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(pollCtx, update.Message)
				case update.CallbackQuery != nil:
					c.handleCallback(pollCtx, update.CallbackQuery)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long-poll context and waits for the update loop to exit
// so Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			c.logger.Info("telegram channel stopped")
		case <-time.After(stopWait):
			c.logger.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// syncMenuCommands registers the bot menu, retrying a few times since the
// Bot API is occasionally flaky right after connect.
func (c *Channel) syncMenuCommands(ctx context.Context) {
	commands := []telego.BotCommand{
		{Command: "new", Description: "开始新的法律咨询"},
		{Command: "report", Description: "查看本会话的最新报告"},
		{Command: "cancel", Description: "取消正在进行的分析"},
		{Command: "help", Description: "使用说明"},
	}
	for attempt := 1; attempt <= 3; attempt++ {
		err := c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: commands})
		if err == nil {
			return
		}
		c.logger.Warn("telegram menu sync failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 5 * time.Second):
		}
	}
}

// sendText delivers text to a chat, splitting at the API size limit.
func (c *Channel) sendText(ctx context.Context, chatID int64, text string) {
	for _, part := range channels.SplitMessage(text, sendMaxLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), part)); err != nil {
			c.logger.Warn("telegram send failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

// typing shows the "typing…" indicator while the engine works.
func (c *Channel) typing(ctx context.Context, chatID int64) {
	_ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}
