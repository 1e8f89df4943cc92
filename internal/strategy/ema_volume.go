package strategy

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/logging"
	"signalbot/internal/store"
)

func init() {
	Register("ema_volume", func(cfg *config.Config, st *store.MemoryStore) Strategy {
		return NewEmaVolume(cfg, st)
	})
}

// EmaVolume is the primary strategy: a 5m range breakout confirmed by a 1m
// EMA trend filter and a volume spike inside the configured band.
type EmaVolume struct {
	cfg   *config.Config
	store *store.MemoryStore
	log   zerolog.Logger
}

// NewEmaVolume creates the strategy reading parameters from config
func NewEmaVolume(cfg *config.Config, st *store.MemoryStore) *EmaVolume {
	return &EmaVolume{cfg: cfg, store: st, log: logging.Component("strategy.ema_volume")}
}

func (s *EmaVolume) Name() string { return "ema_volume" }

func (s *EmaVolume) RequiredTimeframes() []string { return []string{"1m", "5m"} }

// Evaluate runs the breakout rules for one symbol
func (s *EmaVolume) Evaluate(symbol string) (*Signal, error) {
	strat := s.cfg.StrategyConfig
	risk := s.cfg.RiskConfig

	candles1m := s.store.GetCandles(symbol, "1m")
	candles5m := s.store.GetCandles(symbol, "5m")

	min1m := strat.EmaSlow + 10
	if min1m < 50 {
		min1m = 50
	}
	min5m := strat.BreakoutRangePeriod + 1
	if len(candles1m) < min1m || len(candles5m) < min5m {
		return nil, nil
	}

	close1m := closes(candles1m)
	volume1m := volumes(candles1m)

	emaFast := EMA(close1m, strat.EmaFast)
	emaSlow := EMA(close1m, strat.EmaSlow)

	lastClose := close1m[len(close1m)-1]
	lastEmaF := emaFast[len(emaFast)-1]
	lastEmaS := emaSlow[len(emaSlow)-1]

	// Breakout range over the last N closed 5m candles. The slice excludes
	// the tail on purpose: the still-forming 5m bar is not part of the range.
	period := strat.BreakoutRangePeriod
	rangeSlice := candles5m[len(candles5m)-period-1 : len(candles5m)-1]
	rHigh, rLow := rangeSlice[0].High, rangeSlice[0].Low
	for _, c := range rangeSlice[1:] {
		rHigh = math.Max(rHigh, c.High)
		rLow = math.Min(rLow, c.Low)
	}

	ratio, avgVol, ok := spikeRatio(volume1m)
	if !ok {
		return nil, nil
	}
	if ratio < strat.VolumeSpikeMin || ratio > strat.VolumeSpikeMax {
		return nil, nil
	}

	var side Side
	switch {
	case lastClose > rHigh && lastEmaF > lastEmaS:
		side = SideLong
	case lastClose < rLow && lastEmaF < lastEmaS:
		side = SideShort
	default:
		return nil, nil
	}

	var sl, tp float64
	if side == SideLong {
		sl = math.Max(rLow*(1-risk.StopOffset), lastClose*(1-risk.MaxStopPercent))
		tp = lastClose + (lastClose-sl)*risk.RRRatio
	} else {
		sl = math.Min(rHigh*(1+risk.StopOffset), lastClose*(1+risk.MaxStopPercent))
		tp = lastClose - (sl-lastClose)*risk.RRRatio
	}

	sig := &Signal{
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    round(lastClose, 6),
		SLPrice:       round(sl, 6),
		TPPrice:       round(tp, 6),
		SpikeRatio:    round(ratio, 4),
		EmaFastValue:  round(lastEmaF, 6),
		EmaSlowValue:  round(lastEmaS, 6),
		CurrentVolume: round(volume1m[len(volume1m)-1], 2),
		AvgVolume:     round(avgVol, 2),
		Timestamp:     time.Now().UTC(),
	}

	s.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", sig.EntryPrice).
		Float64("spike", sig.SpikeRatio).
		Msg("signal generated")
	return sig, nil
}

// round truncates f to the given number of decimal places
func round(f float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(f*shift) / shift
}
