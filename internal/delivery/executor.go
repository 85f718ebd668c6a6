package delivery

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/telepoe/internal/markup"
)

// Status is the terminal state of one segment delivery.
type Status int

const (
	// StatusSent — delivered with markup intact.
	StatusSent Status = iota
	// StatusDegraded — delivered as plain text after a markup rejection.
	StatusDegraded
	// StatusFailed — all paths exhausted; a short error notice was
	// attempted instead.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDegraded:
		return "degraded_sent"
	default:
		return "failed"
	}
}

// Sender is the platform send primitive. markdown=false sends the text
// without any parse mode.
type Sender interface {
	SendSegment(ctx context.Context, chatID int64, text string, markdown bool) error
}

const (
	transientFailureNotice = "Error: operation timed out or network error."
	formatFailureNotice    = "Ошибка форматирования ответа, отправляю как обычный текст."
)

// Executor delivers segment sequences chat by chat. Segments of one reply
// are always sent strictly in order; a later segment waits for the earlier
// one's terminal state.
type Executor struct {
	sender Sender
	policy RetryPolicy

	// Per-chat pacing: Telegram allows roughly one message per second to
	// the same chat before answering with 429s.
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func NewExecutor(sender Sender, policy RetryPolicy) *Executor {
	return &Executor{
		sender:   sender,
		policy:   policy,
		limiters: make(map[int64]*rate.Limiter),
	}
}

func (e *Executor) limiter(chatID int64) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 3)
		e.limiters[chatID] = l
	}
	return l
}

// Deliver sends the segments in order and returns the terminal status of
// each. A failed segment does not stop delivery of the ones after it.
func (e *Executor) Deliver(ctx context.Context, chatID int64, segments []string) []Status {
	statuses := make([]Status, len(segments))
	for i, seg := range segments {
		statuses[i] = e.deliverOne(ctx, chatID, seg, i, len(segments))
	}
	return statuses
}

func (e *Executor) deliverOne(ctx context.Context, chatID int64, seg string, idx, total int) Status {
	if err := e.limiter(chatID).Wait(ctx); err != nil {
		return StatusFailed
	}

	err := e.policy.Do(ctx, func() error {
		return e.sender.SendSegment(ctx, chatID, seg, true)
	})
	if err == nil {
		slog.Debug("segment delivered", "chat_id", chatID, "segment", idx+1, "of", total)
		return StatusSent
	}

	switch Classify(err) {
	case KindFormatRejected:
		return e.degradeToPlain(ctx, chatID, seg, idx, err)
	case KindTransient:
		slog.Error("segment delivery failed after retries",
			"chat_id", chatID, "segment", idx+1, "error", err)
		e.bestEffortNotice(ctx, chatID, transientFailureNotice)
		return StatusFailed
	default:
		slog.Error("unexpected send error", "chat_id", chatID, "segment", idx+1, "error", err)
		e.bestEffortNotice(ctx, chatID, "Error: failed to deliver part of the reply.")
		return StatusFailed
	}
}

// degradeToPlain strips the MarkdownV2 escapes and resends once without a
// parse mode. Past that, delivery is best-effort: a fixed notice, then
// swallow.
func (e *Executor) degradeToPlain(ctx context.Context, chatID int64, seg string, idx int, cause error) Status {
	slog.Warn("markup rejected, falling back to plain text",
		"chat_id", chatID, "segment", idx+1, "error", cause)

	plain := markup.Unescape(seg)
	err := e.sender.SendSegment(ctx, chatID, plain, false)
	if err == nil {
		return StatusDegraded
	}
	slog.Error("plain text fallback failed", "chat_id", chatID, "segment", idx+1, "error", err)

	e.bestEffortNotice(ctx, chatID, formatFailureNotice+"\n\n"+plain)
	return StatusFailed
}

func (e *Executor) bestEffortNotice(ctx context.Context, chatID int64, text string) {
	if err := e.sender.SendSegment(ctx, chatID, text, false); err != nil {
		slog.Debug("error notice dropped", "chat_id", chatID, "error", err)
	}
}
