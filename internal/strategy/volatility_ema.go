package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/logging"
	"signalbot/internal/store"
)

func init() {
	Register("volatility_ema", func(cfg *config.Config, st *store.MemoryStore) Strategy {
		return NewVolatilityEma(cfg, st)
	})
}

// VolatilityEma trades the 15m EMA fast/slow crossover bar, gated by the
// volume-spike band, with an ATR-scaled stop.
type VolatilityEma struct {
	cfg   *config.Config
	store *store.MemoryStore
	log   zerolog.Logger

	AtrPeriod     int
	AtrMultiplier float64
}

// NewVolatilityEma creates the strategy reading EMA spans and the spike band
// from config
func NewVolatilityEma(cfg *config.Config, st *store.MemoryStore) *VolatilityEma {
	return &VolatilityEma{
		cfg:           cfg,
		store:         st,
		log:           logging.Component("strategy.volatility_ema"),
		AtrPeriod:     14,
		AtrMultiplier: 1.5,
	}
}

func (s *VolatilityEma) Name() string { return "volatility_ema" }

func (s *VolatilityEma) RequiredTimeframes() []string { return []string{"15m"} }

// Evaluate runs the crossover rules for one symbol
func (s *VolatilityEma) Evaluate(symbol string) (*Signal, error) {
	strat := s.cfg.StrategyConfig
	risk := s.cfg.RiskConfig

	candles := s.store.GetCandles(symbol, "15m")

	minLen := strat.EmaSlow
	if s.AtrPeriod+1 > minLen {
		minLen = s.AtrPeriod + 1
	}
	if len(candles) < minLen+2 {
		return nil, nil
	}

	close15m := closes(candles)
	volume15m := volumes(candles)
	high15m := make([]float64, len(candles))
	low15m := make([]float64, len(candles))
	for i, c := range candles {
		high15m[i] = c.High
		low15m[i] = c.Low
	}

	emaF := EMA(close15m, strat.EmaFast)
	emaS := EMA(close15m, strat.EmaSlow)

	n := len(close15m)

	ratio, avgVol, ok := spikeRatio(volume15m)
	if !ok {
		return nil, nil
	}
	if ratio < strat.VolumeSpikeMin || ratio > strat.VolumeSpikeMax {
		return nil, nil
	}

	// Trigger only on the crossover bar itself
	var side Side
	switch {
	case emaF[n-1] > emaS[n-1] && emaF[n-2] <= emaS[n-2]:
		side = SideLong
	case emaF[n-1] < emaS[n-1] && emaF[n-2] >= emaS[n-2]:
		side = SideShort
	default:
		return nil, nil
	}

	entry := close15m[n-1]
	if price, ok := s.store.GetPrice(symbol); ok {
		entry = price
	}

	atr := ATR(high15m, low15m, close15m, s.AtrPeriod)
	lastAtr := atr[n-1]
	if lastAtr <= 0 {
		return nil, nil
	}

	var sl, tp float64
	if side == SideLong {
		sl = entry - s.AtrMultiplier*lastAtr
		tp = entry + (entry-sl)*risk.RRRatio
	} else {
		sl = entry + s.AtrMultiplier*lastAtr
		tp = entry - (sl-entry)*risk.RRRatio
	}

	sig := &Signal{
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    round(entry, 6),
		SLPrice:       round(sl, 6),
		TPPrice:       round(tp, 6),
		SpikeRatio:    round(ratio, 4),
		EmaFastValue:  round(emaF[n-1], 6),
		EmaSlowValue:  round(emaS[n-1], 6),
		CurrentVolume: round(volume15m[n-1], 2),
		AvgVolume:     round(avgVol, 2),
		Timestamp:     time.Now().UTC(),
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", sig.EntryPrice).
		Float64("atr", round(lastAtr, 6)).
		Msg("signal generated")
	return sig, nil
}
