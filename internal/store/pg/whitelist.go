package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/telepoe/internal/store"
)

// WhitelistStore is the persistent access-control set.
type WhitelistStore struct {
	db *sql.DB
}

func NewWhitelistStore(db *sql.DB) *WhitelistStore {
	return &WhitelistStore{db: db}
}

func (w *WhitelistStore) IsWhitelisted(ctx context.Context, entityID int64) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx,
		`SELECT 1 FROM whitelist WHERE entity_id = $1`, entityID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("whitelist check %d: %w", entityID, err)
	}
	return true, nil
}

func (w *WhitelistStore) Add(ctx context.Context, entityID int64) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO whitelist (entity_id, added_at) VALUES ($1, NOW())
		 ON CONFLICT (entity_id) DO NOTHING`,
		entityID,
	)
	if err != nil {
		return fmt.Errorf("whitelist add %d: %w", entityID, err)
	}
	return nil
}

func (w *WhitelistStore) Remove(ctx context.Context, entityID int64) error {
	_, err := w.db.ExecContext(ctx,
		`DELETE FROM whitelist WHERE entity_id = $1`, entityID,
	)
	if err != nil {
		return fmt.Errorf("whitelist remove %d: %w", entityID, err)
	}
	return nil
}

// ListDetails returns whitelist entries joined with the last username and
// activity timestamp seen in the exchange log for that chat.
func (w *WhitelistStore) ListDetails(ctx context.Context) ([]store.WhitelistEntry, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT w.entity_id, w.added_at,
		        COALESCE(l.username, ''), COALESCE(l.created_at, 'epoch'::timestamptz)
		 FROM whitelist w
		 LEFT JOIN LATERAL (
		   SELECT username, created_at FROM chat_logs
		   WHERE chat_id = w.entity_id
		   ORDER BY created_at DESC LIMIT 1
		 ) l ON TRUE
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
