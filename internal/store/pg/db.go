// Package pg implements the store contracts on Postgres via the pgx stdlib
// driver. Schema lives in migrations/ and is applied with golang-migrate.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/telepoe/internal/store"
)

// OpenDB opens a pooled Postgres connection.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one Postgres handle.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Contexts:  NewContextStore(db),
		Log:       NewExchangeLog(db),
		Whitelist: NewWhitelistStore(db),
		Usage:     NewUsageStore(db),
		Settings:  NewSettingsStore(db),
		Close:     db.Close,
	}, nil
}
