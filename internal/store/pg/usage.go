package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/telepoe/internal/store"
)

// UsageStore accumulates point totals per username.
type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

func (u *UsageStore) Increment(ctx context.Context, username string, points int64) error {
	_, err := u.db.ExecContext(ctx,
		`INSERT INTO usage_stats_users (username, total_points, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (username)
		 DO UPDATE SET total_points = usage_stats_users.total_points + EXCLUDED.total_points,
		               updated_at = NOW()`,
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
