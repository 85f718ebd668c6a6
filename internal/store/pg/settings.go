package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingsStore holds named booleans in app_settings.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) GetBool(ctx context.Context, key string) (bool, error) {
	var value sql.NullBool
	err := s.db.QueryRowContext(ctx,
		`SELECT value_bool FROM app_settings WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settings get %s: %w", key, err)
	}
	return value.Valid && value.Bool, nil
}

func (s *SettingsStore) SetBool(ctx context.Context, key string, value bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value_bool, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key)
		 DO UPDATE SET value_bool = EXCLUDED.value_bool, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("settings set %s: %w", key, err)
	}
	return nil
}
