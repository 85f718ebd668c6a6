package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/telepoe/internal/store"
)

// listingAliases trigger the model listing, in either language.
var listingAliases = map[string]bool{
	"ии": true,
	"ai": true,
}

// handleCommand routes slash commands and the listing aliases. Returns true
// when the message was consumed here and must not reach the relay.
func (c *Channel) handleCommand(ctx context.Context, message *telego.Message, text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	if listingAliases[strings.ToLower(trimmed)] {
		c.sendListing(ctx, message.Chat.ID)
		return true
	}

	if !strings.HasPrefix(trimmed, "/") {
		return false
	}

	cmd, args := splitCommand(trimmed)
	chatID := message.Chat.ID

	switch cmd {
	case "/start", "/help":
		c.sendListing(ctx, chatID)
	case "/clear":
		c.handleClear(ctx, chatID, args)
	case "/collapsible_quote_on":
		c.setQuoteMode(ctx, chatID, true)
	case "/collapsible_quote_off":
		c.setQuoteMode(ctx, chatID, false)
	case "/economy_on", "/economy_off", "/whitelist_list", "/whitelist_remove", "/leaderboard", "/leaderboard_reset":
		if message.From == nil || !c.isAdminID(message.From.ID) {
			c.Notify(ctx, chatID, "Команда доступна только администратору.")
			return true
		}
		c.handleAdminCommand(ctx, chatID, cmd, args)
	default:
		return false
	}
	return true
}

// splitCommand separates "/cmd@BotName arg1 arg2" into "/cmd" and the args.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

// sendListing enumerates the configured backends with their triggers, the
// economy-mode status, and the points balance when available.
func (c *Channel) sendListing(ctx context.Context, chatID int64) {
	backends := c.registry.Backends()
	sort.Strings(backends)

	var b strings.Builder
	b.WriteString("Доступные модели:\n")
	for _, name := range backends {
		triggers := c.registry.Triggers(name)
		marker := ""
		if !c.economy.Allows(name) {
			marker = " (недоступна: режим экономии)"
		}
		fmt.Fprintf(&b, "• %s — %s%s\n", name, strings.Join(triggers, ", "), marker)
	}
	b.WriteString("\nНачните сообщение с триггера, например: gpt привет.\n")
	b.WriteString("Сброс контекста: «gpt очистить» или /clear gpt.")

	if c.balance != nil {
		if balance, ok := c.balance.CurrentBalance(ctx); ok {
			fmt.Fprintf(&b, "\n\nБаланс: %d очков.", balance)
		}
	}

	c.Notify(ctx, chatID, b.String())
}

func (c *Channel) handleClear(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		c.Notify(ctx, chatID, "Укажите модель или триггер: /clear gpt")
		return
	}
	backendID, ok := c.registry.Resolve(args[0])
	if !ok {
		c.Notify(ctx, chatID, fmt.Sprintf("Неизвестная модель %q.", args[0]))
		return
	}
	if err := c.stores.Contexts.Clear(ctx, chatID, backendID); err != nil {
		slog.Error("context clear failed", "chat_id", chatID, "backend", backendID, "error", err)
		c.Notify(ctx, chatID, "Не удалось очистить контекст, попробуйте позже.")
		return
	}
	c.Notify(ctx, chatID, fmt.Sprintf("Контекст для %s очищен.", backendID))
}

func (c *Channel) setQuoteMode(ctx context.Context, chatID int64, on bool) {
	if err := c.stores.Settings.SetBool(ctx, store.QuoteModeKey(chatID), on); err != nil {
		slog.Error("quote mode update failed", "chat_id", chatID, "error", err)
		c.Notify(ctx, chatID, "Не удалось сохранить настройку.")
		return
	}
	if on {
		c.Notify(ctx, chatID, "Длинные ответы будут сворачиваться в цитату.")
	} else {
		c.Notify(ctx, chatID, "Сворачивание ответов отключено.")
	}
}

func (c *Channel) handleAdminCommand(ctx context.Context, chatID int64, cmd string, args []string) {
	switch cmd {
	case "/economy_on":
		if err := c.economy.SetEnabled(ctx, true); err != nil {
			c.Notify(ctx, chatID, "Не удалось включить режим экономии.")
			return
		}
		c.Notify(ctx, chatID, "Режим экономии включён.")
	case "/economy_off":
		if err := c.economy.SetEnabled(ctx, false); err != nil {
			c.Notify(ctx, chatID, "Не удалось выключить режим экономии.")
			return
		}
		c.Notify(ctx, chatID, "Режим экономии выключен.")
	case "/whitelist_list":
		c.sendWhitelist(ctx, chatID)
	case "/whitelist_remove":
		if len(args) == 0 {
			c.Notify(ctx, chatID, "Укажите ID: /whitelist_remove 123456")
			return
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			c.Notify(ctx, chatID, fmt.Sprintf("Некорректный ID %q.", args[0]))
			return
		}
		if err := c.stores.Whitelist.Remove(ctx, id); err != nil {
			slog.Error("whitelist remove failed", "entity_id", id, "error", err)
			c.Notify(ctx, chatID, "Не удалось удалить запись.")
			return
		}
		c.Notify(ctx, chatID, fmt.Sprintf("ID %d удалён из белого списка.", id))
	case "/leaderboard":
		c.sendLeaderboard(ctx, chatID)
	case "/leaderboard_reset":
		if err := c.stores.Usage.Reset(ctx); err != nil {
			slog.Error("leaderboard reset failed", "error", err)
			c.Notify(ctx, chatID, "Не удалось сбросить статистику.")
			return
		}
		c.Notify(ctx, chatID, "Статистика использования сброшена.")
	}
}

func (c *Channel) sendWhitelist(ctx context.Context, chatID int64) {
	entries, err := c.stores.Whitelist.ListDetails(ctx)
	if err != nil {
		slog.Error("whitelist list failed", "error", err)
		c.Notify(ctx, chatID, "Не удалось получить белый список.")
		return
	}
	if len(entries) == 0 {
		c.Notify(ctx, chatID, "Белый список пуст.")
		return
	}
	var b strings.Builder
	b.WriteString("Белый список:\n")
	for _, e := range entries {
		line := fmt.Sprintf("• %d", e.EntityID)
		if e.LastUsername != "" {
			line += " @" + e.LastUsername
		}
		if !e.LastActivity.IsZero() {
			line += " — " + e.LastActivity.Format("2006-01-02 15:04")
		}
		b.WriteString(line + "\n")
	}
	c.Notify(ctx, chatID, b.String())
}

func (c *Channel) sendLeaderboard(ctx context.Context, chatID int64) {
	entries, err := c.stores.Usage.Leaderboard(ctx)
	if err != nil {
		slog.Error("leaderboard failed", "error", err)
		c.Notify(ctx, chatID, "Не удалось получить статистику.")
		return
	}
	c.Notify(ctx, chatID, FormatLeaderboard(entries))
}

// FormatLeaderboard renders the usage totals, top spender first. Also used
// by the scheduled usage report.
func FormatLeaderboard(entries []store.UsageEntry) string {
	if len(entries) == 0 {
		return "Статистика пуста."
	}
	var b strings.Builder
	b.WriteString("Расход очков:\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. @%s — %d\n", i+1, e.Username, e.TotalPoints)
	}
	return strings.TrimRight(b.String(), "\n")
}

// syncMenuCommands registers the command menu with Telegram.
func (c *Channel) syncMenuCommands(ctx context.Context) error {
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "start", Description: "Список моделей и справка"},
			{Command: "clear", Description: "Очистить контекст модели"},
			{Command: "collapsible_quote_on", Description: "Сворачивать длинные ответы"},
			{Command: "collapsible_quote_off", Description: "Не сворачивать ответы"},
		},
	})
}
