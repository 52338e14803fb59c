// Package sqlite persists candles, backtest results, and market signals.
//
// Results and signals are stored as JSON documents next to a few indexed
// columns used for lookups and de-duplication.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/cci.db"
}

// Store is the SQLite-backed persistence layer. A single connection
// serializes writers; WAL keeps readers unblocked.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open creates the store, initializing the database with WAL mode and schema.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			interval  TEXT    NOT NULL,
			open_time INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			PRIMARY KEY (symbol, interval, open_time)
		);

		CREATE TABLE IF NOT EXISTS backtest_results (
			id         TEXT    PRIMARY KEY,
			username   TEXT    NOT NULL DEFAULT '',
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_backtest_user ON backtest_results (username, created_at);

		CREATE TABLE IF NOT EXISTS market_signals (
			id         TEXT    PRIMARY KEY,
			config_id  TEXT    NOT NULL,
			username   TEXT    NOT NULL DEFAULT '',
			symbol     TEXT    NOT NULL,
			timeframe  TEXT    NOT NULL,
			direction  TEXT    NOT NULL,
			candle_ts  INTEGER NOT NULL,
			is_read    INTEGER NOT NULL DEFAULT 0,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (config_id, direction, candle_ts)
		);
		CREATE INDEX IF NOT EXISTS idx_signals_user ON market_signals (username, created_at);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
