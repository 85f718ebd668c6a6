// Package telegram connects the relay to the Telegram Bot API via long
// polling. It is the only package that sees platform-native types: updates
// are converted to relay messages at this boundary, and send errors are
// classified into the delivery error taxonomy.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/telepoe/internal/config"
	"github.com/nextlevelbuilder/telepoe/internal/relay"
	"github.com/nextlevelbuilder/telepoe/internal/store"
	"github.com/nextlevelbuilder/telepoe/internal/trigger"
)

// Handler receives converted inbound messages.
type Handler interface {
	HandleMessage(ctx context.Context, msg relay.Message)
}

// BalanceSource reports the current points balance, best-effort.
type BalanceSource interface {
	CurrentBalance(ctx context.Context) (int64, bool)
}

// Channel runs the Telegram side: polling, command routing, attachment
// download, and the whitelist approval callbacks.
type Channel struct {
	bot      *telego.Bot
	cfg      config.TelegramConfig
	handler  Handler
	registry *trigger.Registry
	stores   *store.Stores
	economy  *relay.Economy
	balance  BalanceSource // nil disables the balance line in listings

	fetch       *http.Client
	imageMaxDim int

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// Options wires the channel.
type Options struct {
	Config      config.TelegramConfig
	Handler     Handler
	Registry    *trigger.Registry
	Stores      *store.Stores
	Economy     *relay.Economy
	Balance     BalanceSource
	FetchClient *http.Client
	ImageMaxDim int
}

// New creates the channel and the underlying bot.
func New(opts Options) (*Channel, error) {
	bot, err := telego.NewBot(opts.Config.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	fetch := opts.FetchClient
	if fetch == nil {
		fetch = &http.Client{Timeout: 60 * time.Second}
	}
	return &Channel{
		bot:         bot,
		cfg:         opts.Config,
		handler:     opts.Handler,
		registry:    opts.Registry,
		stores:      opts.Stores,
		economy:     opts.Economy,
		balance:     opts.Balance,
		fetch:       fetch,
		imageMaxDim: opts.ImageMaxDim,
	}, nil
}

// SetHandler installs the message handler. The handler usually needs the
// channel's sender, so it is wired after New and before Start.
func (c *Channel) SetHandler(h Handler) {
	c.handler = h
}

// Sender returns the delivery sender bound to this bot.
func (c *Channel) Sender() *Sender {
	return &Sender{bot: c.bot}
}

// Start begins long polling. Each update is handled on its own goroutine;
// exchanges across chats run concurrently.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		if err := c.syncMenuCommands(pollCtx); err != nil {
			slog.Warn("failed to sync telegram menu commands", "error", err)
		}
	}()

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					go c.handleMessage(pollCtx, update.Message)
				case update.CallbackQuery != nil:
					go c.handleCallbackQuery(pollCtx, update.CallbackQuery)
				default:
					slog.Debug("telegram update skipped", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop cancels polling and waits for the poll goroutine to exit so Telegram
// releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop() {
	slog.Info("stopping telegram bot")
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
}

func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if message.From == nil {
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"user_id", message.From.ID,
		"username", message.From.Username,
	)

	if c.handleCommand(ctx, message, text) {
		return
	}

	msg := relay.Message{
		ChatID:   message.Chat.ID,
		UserID:   message.From.ID,
		Username: message.From.Username,
		Text:     text,
	}

	att, ok := c.resolveAttachment(ctx, message)
	if !ok {
		// Download or conversion failed; the chat was already notified.
		return
	}
	msg.Attachment = att

	c.handler.HandleMessage(ctx, msg)
}

// Notify sends a short plain-text notice, best-effort.
func (c *Channel) Notify(ctx context.Context, chatID int64, text string) {
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		slog.Warn("notice send failed", "chat_id", chatID, "error", err)
	}
}

// Typing shows the typing indicator, best-effort.
func (c *Channel) Typing(ctx context.Context, chatID int64) {
	action := tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)
	if err := c.bot.SendChatAction(ctx, action); err != nil {
		slog.Debug("chat action failed", "chat_id", chatID, "error", err)
	}
}

func (c *Channel) isAdminID(userID int64) bool {
	id := strconv.FormatInt(userID, 10)
	for _, admin := range c.cfg.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

func (c *Channel) adminChatIDs() []int64 {
	var out []int64
	for _, admin := range c.cfg.AdminIDs {
		if id, err := strconv.ParseInt(strings.TrimSpace(admin), 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
