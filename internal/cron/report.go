// Package cron runs the scheduled usage report: on a configured cron
// expression, the current points leaderboard is posted to the admin chat.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/telepoe/internal/store"
)

// Notifier posts the report text.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string)
}

// Reporter checks the schedule once a minute and posts the leaderboard on
// due ticks.
type Reporter struct {
	schedule string
	chatID   int64
	usage    store.UsageStore
	notifier Notifier
	format   func([]store.UsageEntry) string
	gron     *gronx.Gronx
}

// NewReporter validates the cron expression. An empty schedule is rejected;
// callers skip the reporter entirely when the job is disabled.
func NewReporter(schedule string, chatID int64, usage store.UsageStore, notifier Notifier, format func([]store.UsageEntry) string) (*Reporter, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, &InvalidScheduleError{Expr: schedule}
	}
	return &Reporter{
		schedule: schedule,
		chatID:   chatID,
		usage:    usage,
		notifier: notifier,
		format:   format,
		gron:     g,
	}, nil
}

// InvalidScheduleError reports an unparseable cron expression.
type InvalidScheduleError struct {
	Expr string
}

func (e *InvalidScheduleError) Error() string {
	return "invalid cron expression: " + e.Expr
}

// Run blocks until ctx is cancelled, firing the report on due minutes.
func (r *Reporter) Run(ctx context.Context) {
	slog.Info("usage report scheduled", "schedule", r.schedule, "chat_id", r.chatID)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := r.gron.IsDue(r.schedule, now)
			if err != nil {
				slog.Error("cron schedule check failed", "schedule", r.schedule, "error", err)
				continue
			}
			if due {
				r.fire(ctx)
			}
		}
	}
}

func (r *Reporter) fire(ctx context.Context) {
	entries, err := r.usage.Leaderboard(ctx)
	if err != nil {
		slog.Error("usage report query failed", "error", err)
		return
	}
	r.notifier.Notify(ctx, r.chatID, r.format(entries))
	slog.Info("usage report sent", "chat_id", r.chatID, "entries", len(entries))
}
