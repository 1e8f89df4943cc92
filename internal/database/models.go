package database

import "time"

// Close reasons recorded on trades
const (
	CloseReasonTP      = "TP"
	CloseReasonSL      = "SL"
	CloseReasonTimeout = "TIMEOUT"
)

// SignalRecord is one row of the signals audit table
type SignalRecord struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	TPPrice    float64   `json:"tp_price"`
	SLPrice    float64   `json:"sl_price"`
	SpikeRatio float64   `json:"spike_ratio"`
	CreatedAt  time.Time `json:"created_at"`
}

// TradeRecord is the closed outcome of a signal. SignalID is unique: a signal
// resolves at most once.
type TradeRecord struct {
	ID          int64     `json:"id"`
	SignalID    int64     `json:"signal_id"`
	CloseReason string    `json:"close_reason"`
	ClosePrice  float64   `json:"close_price"`
	PnlPercent  float64   `json:"pnl_percent"`
	ClosedAt    time.Time `json:"closed_at"`
}

// MarketSnapshot captures the indicator context at signal time. One per
// signal. CandleDataJSON optionally holds the recent 1m candles as JSON.
type MarketSnapshot struct {
	ID             int64   `json:"id"`
	SignalID       int64   `json:"signal_id"`
	EmaFastValue   float64 `json:"ema_fast_value"`
	EmaSlowValue   float64 `json:"ema_slow_value"`
	CurrentVolume  float64 `json:"current_volume"`
	AvgVolume      float64 `json:"avg_volume"`
	CandleDataJSON *string `json:"candle_data_json,omitempty"`
}
