package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
	"github.com/nextlevelbuilder/telepoe/internal/channel/telegram"
	"github.com/nextlevelbuilder/telepoe/internal/config"
	"github.com/nextlevelbuilder/telepoe/internal/cron"
	"github.com/nextlevelbuilder/telepoe/internal/delivery"
	"github.com/nextlevelbuilder/telepoe/internal/normalize"
	"github.com/nextlevelbuilder/telepoe/internal/relay"
	"github.com/nextlevelbuilder/telepoe/internal/store"
	"github.com/nextlevelbuilder/telepoe/internal/store/pg"
	"github.com/nextlevelbuilder/telepoe/internal/store/sqlite"
	"github.com/nextlevelbuilder/telepoe/internal/trigger"
)

func runRelay() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Telegram.Token == "" {
		fmt.Println("No Telegram bot token found. Set TELEPOE_TELEGRAM_TOKEN, or run the setup wizard:")
		fmt.Println()
		fmt.Println("  ./telepoe onboard")
		os.Exit(1)
	}
	if cfg.Poe.APIKey == "" {
		fmt.Println("No Poe API key found. Set TELEPOE_POE_API_KEY (see https://poe.com/api_key).")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := relay.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	registry, err := trigger.NewRegistry(cfg.Triggers())
	if err != nil {
		slog.Error("invalid trigger configuration", "error", err)
		os.Exit(1)
	}

	// One HTTP client carries the proxy (if any) for both the chat API and
	// Telegram file downloads.
	poeHTTP, err := relay.NewFetchClient(cfg.Poe.ProxyURL, time.Duration(cfg.Poe.TimeoutSec)*time.Second)
	if err != nil {
		slog.Error("invalid proxy URL", "proxy", cfg.Poe.ProxyURL, "error", err)
		os.Exit(1)
	}
	fetchHTTP, err := relay.NewFetchClient(cfg.Poe.ProxyURL, 60*time.Second)
	if err != nil {
		slog.Error("invalid proxy URL", "proxy", cfg.Poe.ProxyURL, "error", err)
		os.Exit(1)
	}

	client := backend.NewClientWithHTTP(cfg.Poe.APIKey, cfg.Poe.BaseURL, poeHTTP)
	points := backend.NewPointsClient(cfg.Poe.APIKey)

	economy := relay.NewEconomy(stores.Settings, cfg.Relay.EconomySet)
	if err := economy.Load(ctx); err != nil {
		slog.Warn("economy mode state not loaded, assuming off", "error", err)
	}

	channel, err := telegram.New(telegram.Options{
		Config:      cfg.Telegram,
		Registry:    registry,
		Stores:      stores,
		Economy:     economy,
		Balance:     points,
		FetchClient: fetchHTTP,
		ImageMaxDim: cfg.Relay.ImageMaxDim,
	})
	if err != nil {
		slog.Error("failed to create telegram channel", "error", err)
		os.Exit(1)
	}

	executor := delivery.NewExecutor(channel.Sender(), delivery.DefaultRetryPolicy())

	orch := relay.NewOrchestrator(relay.Options{
		Registry:         registry,
		Backends:         cfg.Backends,
		Client:           client,
		Points:           points,
		Stores:           stores,
		Executor:         executor,
		Platform:         channel,
		Economy:          economy,
		Rules:            normalizeRules(cfg),
		ContextWindow:    cfg.Relay.ContextWindow,
		WhitelistEnabled: cfg.Telegram.WhitelistEnabled,
		IsAdmin:          cfg.IsAdmin,
	})
	channel.SetHandler(orch)

	if err := channel.Start(ctx); err != nil {
		slog.Error("failed to start telegram channel", "error", err)
		os.Exit(1)
	}

	// Hot-reload: normalizer rules and the economy set follow config.json;
	// trigger changes are logged and need a restart.
	if err := config.Watch(ctx, cfgPath, cfg, func(fresh *config.Config) {
		economy.ReplaceAllowed(fresh.Relay.EconomySet)
		orch.SetRules(normalizeRules(fresh))
	}); err != nil {
		slog.Warn("config watch disabled", "error", err)
	}

	startUsageReport(ctx, cfg, stores, channel)

	slog.Info("telepoe running", "config", cfgPath)
	<-ctx.Done()

	slog.Info("shutting down")
	channel.Stop()
}

// openStores picks Postgres when a DSN is configured, SQLite otherwise.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		slog.Info("using postgres store")
		return pg.NewStores(dsn)
	}
	path := config.ExpandHome(cfg.Database.SQLitePath)
	slog.Info("using sqlite store", "path", path)
	return sqlite.NewStores(path)
}

// normalizeRules layers config overrides onto the defaults.
func normalizeRules(cfg *config.Config) normalize.Rules {
	rules := normalize.DefaultRules()
	if v := cfg.Normalize.ThinkingMarker; v != "" {
		rules.ThinkingMarker = v
	}
	if v := cfg.Normalize.SourcesHeader; v != "" {
		rules.SourcesHeader = v
	}
	if v := cfg.Normalize.SourcesNotice; v != "" {
		rules.SourcesNotice = v
	}
	if len(cfg.Normalize.Disclaimers) > 0 {
		rules.Disclaimers = cfg.Normalize.Disclaimers
	}
	return rules
}

// startUsageReport schedules the periodic leaderboard post when configured.
// The target chat defaults to the first admin.
func startUsageReport(ctx context.Context, cfg *config.Config, stores *store.Stores, channel *telegram.Channel) {
	schedule := cfg.Cron.UsageReportSchedule
	if schedule == "" {
		return
	}

	chatIDStr := cfg.Cron.UsageReportChatID
	if chatIDStr == "" && len(cfg.Telegram.AdminIDs) > 0 {
		chatIDStr = cfg.Telegram.AdminIDs[0]
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		slog.Warn("usage report disabled: no valid target chat", "chat_id", chatIDStr)
		return
	}

	reporter, err := cron.NewReporter(schedule, chatID, stores.Usage, channel, telegram.FormatLeaderboard)
	if err != nil {
		slog.Warn("usage report disabled", "error", err)
		return
	}
	go reporter.Run(ctx)
}
