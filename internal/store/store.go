// Package store defines the persistence contracts: per-(chat, backend)
// conversation contexts, the append-only exchange log, the whitelist,
// usage totals, and small boolean settings.
//
// Two drivers implement the contracts: pg (Postgres via pgx, schema managed
// by golang-migrate) and sqlite (modernc.org/sqlite, schema bootstrapped at
// open) for standalone deployments.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
)

// ContextStore holds the bounded conversation history for each
// (chat, backend) pair. Get returns an empty slice when no row exists.
// Set replaces the whole stored sequence; the caller trims to the window
// cap and strips transient fields first. Clear deletes the row.
type ContextStore interface {
	Get(ctx context.Context, chatID int64, backendID string) ([]backend.Turn, error)
	Set(ctx context.Context, chatID int64, backendID string, turns []backend.Turn) error
	Clear(ctx context.Context, chatID int64, backendID string) error
}

// ExchangeLog is the append-only record of every exchange.
type ExchangeLog interface {
	Append(ctx context.Context, chatID int64, backendID, username, role, content string) error
}

// WhitelistEntry describes one whitelisted entity with its last observed
// activity from the exchange log.
type WhitelistEntry struct {
	EntityID     int64
	AddedAt      time.Time
	LastUsername string
	LastActivity time.Time
}

// WhitelistStore is the access-control set of chat/user IDs.
type WhitelistStore interface {
	IsWhitelisted(ctx context.Context, entityID int64) (bool, error)
	Add(ctx context.Context, entityID int64) error
	Remove(ctx context.Context, entityID int64) error
	ListDetails(ctx context.Context) ([]WhitelistEntry, error)
}

// UsageEntry is one leaderboard row.
type UsageEntry struct {
	Username    string
	TotalPoints int64
}

// UsageStore accumulates point costs per username.
type UsageStore interface {
	Increment(ctx context.Context, username string, points int64) error
	Leaderboard(ctx context.Context) ([]UsageEntry, error)
	Reset(ctx context.Context) error
}

// SettingsStore holds small named booleans (economy mode, per-chat
// collapsible-quote mode). Missing keys read as false.
type SettingsStore interface {
	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
}

// Settings keys.
const (
	KeyEconomyMode = "economy_mode"
)

// QuoteModeKey is the per-chat collapsible-quote setting key.
func QuoteModeKey(chatID int64) string {
	return "cq:" + strconv.FormatInt(chatID, 10)
}

// Stores bundles all persistence interfaces for wiring.
type Stores struct {
	Contexts  ContextStore
	Log       ExchangeLog
	Whitelist WhitelistStore
	Usage     UsageStore
	Settings  SettingsStore

	// Close releases the underlying database handle.
	Close func() error
}
