// Package sqlite implements the store contracts on a local SQLite file for
// standalone deployments that don't run Postgres. The schema is bootstrapped
// at open time.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
	"github.com/nextlevelbuilder/telepoe/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_contexts (
	chat_id    INTEGER NOT NULL,
	bot_key    TEXT NOT NULL,
	messages   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, bot_key)
);
CREATE TABLE IF NOT EXISTS chat_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    INTEGER NOT NULL,
	bot_key    TEXT NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_logs_chat_created ON chat_logs (chat_id, created_at);
CREATE TABLE IF NOT EXISTS whitelist (
	entity_id INTEGER PRIMARY KEY,
	added_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS usage_stats_users (
	username     TEXT PRIMARY KEY,
	total_points INTEGER NOT NULL DEFAULT 0,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS app_settings (
	key        TEXT PRIMARY KEY,
	value_bool INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OpenDB opens the SQLite file and bootstraps the schema.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("sqlite journal mode: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one SQLite file.
func NewStores(path string) (*store.Stores, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Contexts:  &ContextStore{db: db},
		Log:       &ExchangeLog{db: db},
		Whitelist: &WhitelistStore{db: db},
		Usage:     &UsageStore{db: db},
		Settings:  &SettingsStore{db: db},
		Close:     db.Close,
	}, nil
}

// ContextStore persists conversation contexts as one JSON text row per
// (chat, backend) key.
type ContextStore struct {
	db *sql.DB
}

func (s *ContextStore) Get(ctx context.Context, chatID int64, backendID string) ([]backend.Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_contexts WHERE chat_id = ? AND bot_key = ?`,
		chatID, backendID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context %d/%s: %w", chatID, backendID, err)
	}

	var turns []backend.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode context %d/%s: %w", chatID, backendID, err)
	}
	return turns, nil
}

func (s *ContextStore) Set(ctx context.Context, chatID int64, backendID string, turns []backend.Turn) error {
	if turns == nil {
		turns = []backend.Turn{}
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode context %d/%s: %w", chatID, backendID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_contexts (chat_id, bot_key, messages, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (chat_id, bot_key)
		 DO UPDATE SET messages = excluded.messages, updated_at = CURRENT_TIMESTAMP`,
		chatID, backendID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("set context %d/%s: %w", chatID, backendID, err)
	}
	return nil
}

func (s *ContextStore) Clear(ctx context.Context, chatID int64, backendID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_contexts WHERE chat_id = ? AND bot_key = ?`,
		chatID, backendID,
	)
	if err != nil {
		return fmt.Errorf("clear context %d/%s: %w", chatID, backendID, err)
	}
	return nil
}

// ExchangeLog appends exchanges for audit and the whitelist activity view.
type ExchangeLog struct {
	db *sql.DB
}

func (l *ExchangeLog) Append(ctx context.Context, chatID int64, backendID, username, role, content string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_logs (chat_id, bot_key, username, role, content)
		 VALUES (?, ?, ?, ?, ?)`,
		chatID, backendID, username, role, content,
	)
	if err != nil {
		return fmt.Errorf("append log %d/%s: %w", chatID, backendID, err)
	}
	return nil
}

// WhitelistStore is the persistent access-control set.
type WhitelistStore struct {
	db *sql.DB
}

func (w *WhitelistStore) IsWhitelisted(ctx context.Context, entityID int64) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx,
		`SELECT 1 FROM whitelist WHERE entity_id = ?`, entityID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("whitelist check %d: %w", entityID, err)
	}
	return true, nil
}

func (w *WhitelistStore) Add(ctx context.Context, entityID int64) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO whitelist (entity_id) VALUES (?)`, entityID,
	)
	if err != nil {
		return fmt.Errorf("whitelist add %d: %w", entityID, err)
	}
	return nil
}

func (w *WhitelistStore) Remove(ctx context.Context, entityID int64) error {
	_, err := w.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE entity_id = ?`, entityID,
	)
	if err != nil {
		return fmt.Errorf("whitelist remove %d: %w", entityID, err)
	}
	return nil
}

func (w *WhitelistStore) ListDetails(ctx context.Context) ([]store.WhitelistEntry, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT w.entity_id, w.added_at,
		        COALESCE((SELECT username FROM chat_logs
		                  WHERE chat_id = w.entity_id
		                  ORDER BY created_at DESC LIMIT 1), ''),
		        COALESCE((SELECT created_at FROM chat_logs
		                  WHERE chat_id = w.entity_id
		                  ORDER BY created_at DESC LIMIT 1), '1970-01-01 00:00:00')
		 FROM whitelist w
		 ORDER BY w.added_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("whitelist list: %w", err)
	}
	defer rows.Close()

	var out []store.WhitelistEntry
	for rows.Next() {
		var e store.WhitelistEntry
		if err := rows.Scan(&e.EntityID, &e.AddedAt, &e.LastUsername, &e.LastActivity); err != nil {
			return nil, fmt.Errorf("whitelist scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UsageStore accumulates point totals per username.
type UsageStore struct {
	db *sql.DB
}

func (u *UsageStore) Increment(ctx context.Context, username string, points int64) error {
	_, err := u.db.ExecContext(ctx,
		`INSERT INTO usage_stats_users (username, total_points, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (username)
		 DO UPDATE SET total_points = total_points + excluded.total_points,
		               updated_at = CURRENT_TIMESTAMP`,
		username, points,
	)
	if err != nil {
		return fmt.Errorf("usage increment %s: %w", username, err)
	}
	return nil
}

func (u *UsageStore) Leaderboard(ctx context.Context) ([]store.UsageEntry, error) {
	rows, err := u.db.QueryContext(ctx,
		`SELECT username, total_points FROM usage_stats_users
		 WHERE total_points > 0 ORDER BY total_points DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("usage leaderboard: %w", err)
	}
	defer rows.Close()

	var out []store.UsageEntry
	for rows.Next() {
		var e store.UsageEntry
		if err := rows.Scan(&e.Username, &e.TotalPoints); err != nil {
			return nil, fmt.Errorf("usage scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (u *UsageStore) Reset(ctx context.Context) error {
	if _, err := u.db.ExecContext(ctx, `DELETE FROM usage_stats_users`); err != nil {
		return fmt.Errorf("usage reset: %w", err)
	}
	return nil
}

// SettingsStore holds named booleans in app_settings.
type SettingsStore struct {
	db *sql.DB
}

func (s *SettingsStore) GetBool(ctx context.Context, key string) (bool, error) {
	var value bool
	err := s.db.QueryRowContext(ctx,
		`SELECT value_bool FROM app_settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settings get %s: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) SetBool(ctx context.Context, key string, value bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value_bool, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (key)
		 DO UPDATE SET value_bool = excluded.value_bool, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("settings set %s: %w", key, err)
	}
	return nil
}
