// Package store persists core events to sqlite. Every write goes
// through a bounded asynchronous queue; the trading core never blocks
// on the database. A nil *Store is a valid null store: all methods
// no-op.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"gridflow/logger"
)

// Store is the append-only persistence layer
type Store struct {
	db *sql.DB
	wr *writer
}

// Open creates (or opens) the sqlite database at path and starts the
// async writer. An empty path returns the null store.
func Open(path string) (*Store, error) {
	if path == "" {
		logger.Info("Persistence disabled, running with null store")
		return nil, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite writer contention

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	s.wr = newWriter(db)

	logger.Infof("✅ Database initialized at %s", path)
	return s, nil
}

// Close drains the writer queue and closes the database
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.wr.close()
	s.db.Close()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			pnl REAL NOT NULL DEFAULT 0,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS grid_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			config_json TEXT NOT NULL,
			deployed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			order_id TEXT NOT NULL,
			event TEXT NOT NULL,
			price REAL,
			quantity REAL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_symbol ON order_events(symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS ticks (
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_symbol ON ticks(symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS kill_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reason TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			grid_op TEXT,
			price REAL,
			zone TEXT,
			accepted INTEGER NOT NULL DEFAULT 0,
			ts TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
