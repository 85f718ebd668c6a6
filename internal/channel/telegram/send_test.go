package telegram

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mymmrac/telego/telegoapi"

	"github.com/nextlevelbuilder/telepoe/internal/delivery"
	"github.com/nextlevelbuilder/telepoe/internal/store"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want delivery.ErrorKind
	}{
		{
			"rate limited with retry after",
			&telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests: retry after 7",
				Parameters: &telegoapi.ResponseParameters{RetryAfter: 7}},
			delivery.KindRateLimited,
		},
		{
			"rate limited without parameters",
			&telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests"},
			delivery.KindRateLimited,
		},
		{
			"markup rejected",
			&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: can't parse entities: Character '_' is reserved"},
			delivery.KindFormatRejected,
		},
		{
			"server error is transient",
			&telegoapi.Error{ErrorCode: 502, Description: "Bad Gateway"},
			delivery.KindTransient,
		},
		{
			"other bad request passes through",
			&telegoapi.Error{ErrorCode: 400, Description: "Bad Request: chat not found"},
			delivery.KindOther,
		},
		{
			"wrapped api error",
			fmt.Errorf("send: %w", &telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests"}),
			delivery.KindRateLimited,
		},
		{
			"plain error passes through",
			errors.New("boom"),
			delivery.KindOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := delivery.Classify(classifySendError(tt.err))
			if got != tt.want {
				t.Errorf("kind = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifySendErrorRetryAfter(t *testing.T) {
	err := classifySendError(&telegoapi.Error{
		ErrorCode:  429,
		Parameters: &telegoapi.ResponseParameters{RetryAfter: 12},
	})
	var limited *delivery.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("error not rate-limited: %v", err)
	}
	if limited.RetryAfter != 12*time.Second {
		t.Errorf("retry after = %s, want 12s", limited.RetryAfter)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in       string
		wantCmd  string
		wantArgs []string
	}{
		{"/clear gpt", "/clear", []string{"gpt"}},
		{"/clear@MyBot gpt", "/clear", []string{"gpt"}},
		{"/Economy_On", "/economy_on", nil},
		{"/whitelist_remove 123 456", "/whitelist_remove", []string{"123", "456"}},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.in)
		if cmd != tt.wantCmd {
			t.Errorf("splitCommand(%q) cmd = %q, want %q", tt.in, cmd, tt.wantCmd)
		}
		if len(args) != len(tt.wantArgs) {
			t.Errorf("splitCommand(%q) args = %v, want %v", tt.in, args, tt.wantArgs)
			continue
		}
		for i := range args {
			if args[i] != tt.wantArgs[i] {
				t.Errorf("splitCommand(%q) args = %v, want %v", tt.in, args, tt.wantArgs)
			}
		}
	}
}

func TestFormatLeaderboard(t *testing.T) {
	if got := FormatLeaderboard(nil); got != "Статистика пуста." {
		t.Errorf("empty leaderboard = %q", got)
	}

	got := FormatLeaderboard([]store.UsageEntry{
		{Username: "alice", TotalPoints: 120},
		{Username: "bob", TotalPoints: 40},
	})
	want := "Расход очков:\n1. @alice — 120\n2. @bob — 40"
	if got != want {
		t.Errorf("leaderboard = %q, want %q", got, want)
	}
}
