package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Callback data prefixes for the whitelist approval workflow.
const (
	cbWhitelistRequest = "wl_req:"
	cbWhitelistApprove = "wl_ok:"
)

// RequestWhitelist implements the relay.Platform prompt for unauthorized
// chats: a notice with a single "request access" button.
func (c *Channel) RequestWhitelist(ctx context.Context, chatID int64, userID int64, username string) {
	msg := tu.Message(tu.ID(chatID),
		"Доступ к боту по белому списку. Нажмите кнопку, чтобы запросить доступ.")
	msg.ReplyMarkup = tu.InlineKeyboard(tu.InlineKeyboardRow(
		tu.InlineKeyboardButton("Запросить доступ").
			WithCallbackData(fmt.Sprintf("%s%d:%s", cbWhitelistRequest, chatID, username)),
	))
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		slog.Warn("whitelist prompt failed", "chat_id", chatID, "error", err)
	}
}

func (c *Channel) handleCallbackQuery(ctx context.Context, query *telego.CallbackQuery) {
	data := query.Data
	switch {
	case strings.HasPrefix(data, cbWhitelistRequest):
		c.handleWhitelistRequest(ctx, query, strings.TrimPrefix(data, cbWhitelistRequest))
	case strings.HasPrefix(data, cbWhitelistApprove):
		c.handleWhitelistApprove(ctx, query, strings.TrimPrefix(data, cbWhitelistApprove))
	default:
		c.answerCallback(ctx, query.ID, "")
	}
}

// handleWhitelistRequest forwards the access request to every admin with an
// approve button.
func (c *Channel) handleWhitelistRequest(ctx context.Context, query *telego.CallbackQuery, payload string) {
	chatIDStr, username, _ := strings.Cut(payload, ":")
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		c.answerCallback(ctx, query.ID, "Некорректный запрос.")
		return
	}

	label := chatIDStr
	if username != "" {
		label = "@" + username + " (" + chatIDStr + ")"
	}

	for _, adminID := range c.adminChatIDs() {
		msg := tu.Message(tu.ID(adminID),
			fmt.Sprintf("Запрос доступа от %s.", label))
		msg.ReplyMarkup = tu.InlineKeyboard(tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("Одобрить").
				WithCallbackData(fmt.Sprintf("%s%d", cbWhitelistApprove, chatID)),
		))
		if _, err := c.bot.SendMessage(ctx, msg); err != nil {
			slog.Warn("admin whitelist notice failed", "admin_id", adminID, "error", err)
		}
	}

	c.answerCallback(ctx, query.ID, "Запрос отправлен администратору.")
	slog.Info("whitelist access requested", "chat_id", chatID, "username", username)
}

// handleWhitelistApprove adds the entity and notifies it. Only admins may
// press the button (it only reaches admin chats, but the check stays).
func (c *Channel) handleWhitelistApprove(ctx context.Context, query *telego.CallbackQuery, payload string) {
	if !c.isAdminID(query.From.ID) {
		c.answerCallback(ctx, query.ID, "Недостаточно прав.")
		return
	}
	chatID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		c.answerCallback(ctx, query.ID, "Некорректный запрос.")
		return
	}

	if err := c.stores.Whitelist.Add(ctx, chatID); err != nil {
		slog.Error("whitelist add failed", "entity_id", chatID, "error", err)
		c.answerCallback(ctx, query.ID, "Ошибка, попробуйте ещё раз.")
		return
	}

	c.answerCallback(ctx, query.ID, "Доступ выдан.")
	c.Notify(ctx, chatID, "Доступ к боту открыт. Отправьте сообщение с триггером, например: gpt привет.")
	slog.Info("whitelist access approved", "entity_id", chatID, "approved_by", query.From.ID)
}

func (c *Channel) answerCallback(ctx context.Context, queryID, text string) {
	err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	})
	if err != nil {
		slog.Debug("callback answer failed", "error", err)
	}
}
