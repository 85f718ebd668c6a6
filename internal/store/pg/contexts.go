package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/telepoe/internal/backend"
)

// ContextStore persists conversation contexts as one JSONB row per
// (chat, backend) key. Upserts are single statements; the accepted
// concurrency model (last write wins, conflicts annotated upstream) needs
// no row locking.
type ContextStore struct {
	db *sql.DB
}

func NewContextStore(db *sql.DB) *ContextStore {
	return &ContextStore{db: db}
}

func (s *ContextStore) Get(ctx context.Context, chatID int64, backendID string) ([]backend.Turn, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_contexts WHERE chat_id = $1 AND bot_key = $2`,
		chatID, backendID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context %d/%s: %w", chatID, backendID, err)
	}

	var turns []backend.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
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
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (chat_id, bot_key)
		 DO UPDATE SET messages = EXCLUDED.messages, updated_at = NOW()`,
		chatID, backendID, payload,
	)
	if err != nil {
		return fmt.Errorf("set context %d/%s: %w", chatID, backendID, err)
	}
	return nil
}

func (s *ContextStore) Clear(ctx context.Context, chatID int64, backendID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_contexts WHERE chat_id = $1 AND bot_key = $2`,
		chatID, backendID,
	)
	if err != nil {
		return fmt.Errorf("clear context %d/%s: %w", chatID, backendID, err)
	}
	return nil
}
