// Package sqlite provides an embedded SQLite connection for running the job
// ledger without a PostgreSQL server (local development and tests).
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver registered by go-sqlite3
const DriverName = "sqlite3"

// Config holds SQLite connection configuration
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// DSN returns the go-sqlite3 connection string. WAL lets readers proceed while
// a writer holds the lock, and immediate transactions take the write lock up
// front so two inserts cannot deadlock on lock upgrade.
func (c *Config) DSN() string {
	timeout := c.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
		c.Path, timeout.Milliseconds())
}

// Client owns an SQLite database handle
type Client struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewClient opens the database file, creating it if needed
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	logger.Info("Opening SQLite database",
		slog.String("path", config.Path),
	)

	db, err := sqlx.Open(DriverName, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite: %w", err)
	}

	return &Client{db: db, logger: logger}, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database handle
func (c *Client) Close() error {
	c.logger.Info("Closing SQLite database")
	return c.db.Close()
}
