package pg

import (
	"context"
	"database/sql"
	"fmt"
)

// ExchangeLog appends every user/assistant exchange for audit and the
// whitelist activity view.
type ExchangeLog struct {
	db *sql.DB
}

func NewExchangeLog(db *sql.DB) *ExchangeLog {
	return &ExchangeLog{db: db}
}

func (l *ExchangeLog) Append(ctx context.Context, chatID int64, backendID, username, role, content string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO chat_logs (chat_id, bot_key, username, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		chatID, backendID, username, role, content,
	)
	if err != nil {
		return fmt.Errorf("append log %d/%s: %w", chatID, backendID, err)
	}
	return nil
}
