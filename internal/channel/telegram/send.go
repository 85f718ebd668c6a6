package telegram

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/telepoe/internal/delivery"
)

// Sender sends one reply segment, classifying Bot API failures into the
// delivery error taxonomy so the executor's retry policy can act on them.
type Sender struct {
	bot *telego.Bot
}

// SendSegment implements delivery.Sender. markdown selects MarkdownV2 parse
// mode; false sends the text raw.
func (s *Sender) SendSegment(ctx context.Context, chatID int64, text string, markdown bool) error {
	params := tu.Message(tu.ID(chatID), text)
	if markdown {
		params.ParseMode = telego.ModeMarkdownV2
		params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: false}
	}
	_, err := s.bot.SendMessage(ctx, params)
	if err == nil {
		return nil
	}
	return classifySendError(err)
}

// classifySendError maps Bot API and transport failures onto the delivery
// error types. Unrecognized errors pass through unwrapped and are treated as
// non-retryable.
func classifySendError(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.ErrorCode == 429:
			wait := 5 * time.Second
			if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
				wait = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
			}
			return &delivery.RateLimitedError{RetryAfter: wait, Err: err}
		case apiErr.ErrorCode == 400 && strings.Contains(strings.ToLower(apiErr.Description), "can't parse entities"):
			return &delivery.FormatRejectedError{Err: err}
		case apiErr.ErrorCode >= 500:
			return &delivery.TransientError{Err: err}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection reset") {
		return &delivery.TransientError{Err: err}
	}
	return err
}
