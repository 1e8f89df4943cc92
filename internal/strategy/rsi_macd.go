package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/logging"
	"signalbot/internal/store"
)

func init() {
	Register("rsi_macd", func(cfg *config.Config, st *store.MemoryStore) Strategy {
		return NewRsiMacd(cfg, st)
	})
}

// RsiMacd trades 15m RSI extremes confirmed by a MACD/signal-line cross on
// the same bar.
type RsiMacd struct {
	cfg   *config.Config
	store *store.MemoryStore
	log   zerolog.Logger

	RsiPeriod     int
	RsiOversold   float64
	RsiOverbought float64
	MacdFast      int
	MacdSlow      int
	MacdSignal    int
	RRRatio       float64
}

// NewRsiMacd creates the strategy with its reference parameters
func NewRsiMacd(cfg *config.Config, st *store.MemoryStore) *RsiMacd {
	return &RsiMacd{
		cfg:           cfg,
		store:         st,
		log:           logging.Component("strategy.rsi_macd"),
		RsiPeriod:     14,
		RsiOversold:   30.0,
		RsiOverbought: 70.0,
		MacdFast:      12,
		MacdSlow:      26,
		MacdSignal:    9,
		RRRatio:       2.0,
	}
}

func (s *RsiMacd) Name() string { return "rsi_macd" }

func (s *RsiMacd) RequiredTimeframes() []string { return []string{"15m"} }

// Evaluate runs the RSI+MACD rules for one symbol
func (s *RsiMacd) Evaluate(symbol string) (*Signal, error) {
	candles := s.store.GetCandles(symbol, "15m")

	minLen := s.MacdSlow
	if s.RsiPeriod > minLen {
		minLen = s.RsiPeriod
	}
	if len(candles) < minLen+10 {
		return nil, nil
	}

	close15m := closes(candles)
	volume15m := volumes(candles)

	rsi := RSI(close15m, s.RsiPeriod)
	macdLine, signalLine := MACD(close15m, s.MacdFast, s.MacdSlow, s.MacdSignal)

	n := len(close15m)
	lastRsi := rsi[n-1]
	prevMacd, prevSignal := macdLine[n-2], signalLine[n-2]
	currMacd, currSignal := macdLine[n-1], signalLine[n-1]

	var side Side
	switch {
	case lastRsi < s.RsiOversold && prevMacd < prevSignal && currMacd > currSignal:
		side = SideLong
	case lastRsi > s.RsiOverbought && prevMacd > prevSignal && currMacd < currSignal:
		side = SideShort
	default:
		return nil, nil
	}

	// Prefer the live mark price as entry; fall back to the last close
	entry := close15m[n-1]
	if price, ok := s.store.GetPrice(symbol); ok {
		entry = price
	}

	last := candles[n-1]
	var sl, tp float64
	if side == SideLong {
		sl = last.Low
		if sl >= entry {
			// Stop would sit above entry after a fast drop; nudge it under
			sl = entry * 0.998
		}
		tp = entry + (entry-sl)*s.RRRatio
	} else {
		sl = last.High
		if sl <= entry {
			sl = entry * 1.002
		}
		tp = entry - (sl-entry)*s.RRRatio
	}

	ratio, avgVol, ok := spikeRatio(volume15m)
	if !ok {
		ratio, avgVol = 0, 0
	}

	sig := &Signal{
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    round(entry, 6),
		SLPrice:       round(sl, 6),
		TPPrice:       round(tp, 6),
		SpikeRatio:    round(ratio, 4),
		EmaFastValue:  round(currMacd, 6),   // MACD line mapped onto the snapshot shape
		EmaSlowValue:  round(currSignal, 6), // signal line likewise
		CurrentVolume: round(volume15m[n-1], 2),
		AvgVolume:     round(avgVol, 2),
		Timestamp:     time.Now().UTC(),
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", sig.EntryPrice).
		Float64("rsi", round(lastRsi, 2)).
		Msg("signal generated")
	return sig, nil
}
