// Package database is the audit store for signals and their outcomes.
// Postgres and a local SQLite file share the same schema; the connection URL
// picks the driver.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"signalbot/internal/logging"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// DB wraps the sql handle with its dialect
type DB struct {
	sql     *sql.DB
	dialect string
	log     zerolog.Logger
}

// Open connects to the audit store and runs migrations. URLs starting with
// postgres:// (or postgresql://) use pgx; anything else is a SQLite file path.
func Open(url string) (*DB, error) {
	db := &DB{log: logging.Component("database")}

	var err error
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db.dialect = dialectPostgres
		db.sql, err = sql.Open("pgx", url)
	} else {
		db.dialect = dialectSQLite
		db.sql, err = sql.Open("sqlite3", url+"?_journal=WAL&_busy_timeout=5000")
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if db.dialect == dialectSQLite {
		// Single writer; also keeps :memory: databases on one connection
		db.sql.SetMaxOpenConns(1)
	}

	if err := db.sql.Ping(); err != nil {
		db.sql.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.migrate(); err != nil {
		db.sql.Close()
		return nil, err
	}

	db.log.Info().Str("dialect", db.dialect).Msg("database ready")
	return db, nil
}

// Close releases the connection pool
func (db *DB) Close() error {
	return db.sql.Close()
}

// migrations per dialect; id and timestamp types differ
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		tp_price REAL NOT NULL,
		sl_price REAL NOT NULL,
		spike_ratio REAL NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id INTEGER NOT NULL UNIQUE REFERENCES signals(id),
		close_reason TEXT NOT NULL CHECK (close_reason IN ('TP','SL','TIMEOUT')),
		close_price REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		closed_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id INTEGER NOT NULL UNIQUE REFERENCES signals(id),
		ema_fast_value REAL NOT NULL,
		ema_slow_value REAL NOT NULL,
		current_volume REAL NOT NULL,
		avg_volume REAL NOT NULL,
		candle_data_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		tp_price DOUBLE PRECISION NOT NULL,
		sl_price DOUBLE PRECISION NOT NULL,
		spike_ratio DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		signal_id BIGINT NOT NULL UNIQUE REFERENCES signals(id),
		close_reason TEXT NOT NULL CHECK (close_reason IN ('TP','SL','TIMEOUT')),
		close_price DOUBLE PRECISION NOT NULL,
		pnl_percent DOUBLE PRECISION NOT NULL,
		closed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS market_snapshots (
		id BIGSERIAL PRIMARY KEY,
		signal_id BIGINT NOT NULL UNIQUE REFERENCES signals(id),
		ema_fast_value DOUBLE PRECISION NOT NULL,
		ema_slow_value DOUBLE PRECISION NOT NULL,
		current_volume DOUBLE PRECISION NOT NULL,
		avg_volume DOUBLE PRECISION NOT NULL,
		candle_data_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,
}

func (db *DB) migrate() error {
	migrations := sqliteMigrations
	if db.dialect == dialectPostgres {
		migrations = postgresMigrations
	}
	for i, m := range migrations {
		if _, err := db.sql.ExecContext(context.Background(), m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// rebind converts ?-style placeholders to $N for postgres. Queries are
// written with ? throughout.
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
