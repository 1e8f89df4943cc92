package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"signalbot/internal/logging"
)

// Repository persists and reads audit records
type Repository struct {
	db  *DB
	log zerolog.Logger
}

// NewRepository creates a repository over an open database
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, log: logging.Component("repository")}
}

// SaveSignalWithSnapshot writes the signal row and its market snapshot in one
// transaction, in that order, and returns the new signal id
func (r *Repository) SaveSignalWithSnapshot(ctx context.Context, sig *SignalRecord, snap *MarketSnapshot) (int64, error) {
	tx, err := r.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := r.insertSignal(ctx, tx, sig)
	if err != nil {
		return 0, err
	}

	snap.SignalID = id
	_, err = tx.ExecContext(ctx, r.db.rebind(
		`INSERT INTO market_snapshots
			(signal_id, ema_fast_value, ema_slow_value, current_volume, avg_volume, candle_data_json)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		snap.SignalID, snap.EmaFastValue, snap.EmaSlowValue,
		snap.CurrentVolume, snap.AvgVolume, snap.CandleDataJSON)
	if err != nil {
		return 0, fmt.Errorf("insert market snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit signal: %w", err)
	}
	sig.ID = id
	return id, nil
}

// txLike is the slice of *sql.Tx the insert helpers need
type txLike interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *Repository) insertSignal(ctx context.Context, tx txLike, sig *SignalRecord) (int64, error) {
	query := `INSERT INTO signals
		(symbol, side, entry_price, tp_price, sl_price, spike_ratio, created_at)
	 VALUES (?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		sig.Symbol, sig.Side, sig.EntryPrice, sig.TPPrice,
		sig.SLPrice, sig.SpikeRatio, sig.CreatedAt,
	}

	if r.db.dialect == dialectPostgres {
		var id int64
		err := tx.QueryRowContext(ctx, r.db.rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("insert signal: %w", err)
		}
		return id, nil
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert signal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("signal id: %w", err)
	}
	return id, nil
}

// SaveTrade records the closed outcome of a signal
func (r *Repository) SaveTrade(ctx context.Context, t *TradeRecord) error {
	_, err := r.db.sql.ExecContext(ctx, r.db.rebind(
		`INSERT INTO trades (signal_id, close_reason, close_price, pnl_percent, closed_at)
		 VALUES (?, ?, ?, ?, ?)`),
		t.SignalID, t.CloseReason, t.ClosePrice, t.PnlPercent, t.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// RecentSignals returns the newest signals, most recent first
func (r *Repository) RecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(
		`SELECT id, symbol, side, entry_price, tp_price, sl_price, spike_ratio, created_at
		 FROM signals ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Side, &s.EntryPrice, &s.TPPrice,
			&s.SLPrice, &s.SpikeRatio, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentTrades returns the newest trades, most recent first
func (r *Repository) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	rows, err := r.db.sql.QueryContext(ctx, r.db.rebind(
		`SELECT id, signal_id, close_reason, close_price, pnl_percent, closed_at
		 FROM trades ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.SignalID, &t.CloseReason, &t.ClosePrice,
			&t.PnlPercent, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SnapshotForSignal returns the market snapshot stored with a signal
func (r *Repository) SnapshotForSignal(ctx context.Context, signalID int64) (*MarketSnapshot, error) {
	var s MarketSnapshot
	err := r.db.sql.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, signal_id, ema_fast_value, ema_slow_value, current_volume, avg_volume, candle_data_json
		 FROM market_snapshots WHERE signal_id = ?`), signalID).
		Scan(&s.ID, &s.SignalID, &s.EmaFastValue, &s.EmaSlowValue,
			&s.CurrentVolume, &s.AvgVolume, &s.CandleDataJSON)
	if err != nil {
		return nil, fmt.Errorf("query snapshot for signal %d: %w", signalID, err)
	}
	return &s, nil
}
