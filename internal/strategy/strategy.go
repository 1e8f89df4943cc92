package strategy

import (
	"fmt"
	"sort"
	"time"

	"signalbot/config"
	"signalbot/internal/store"
)

// Side is the direction of a signal
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Signal is a fully priced trade idea produced by a strategy. Signals are
// value objects; everything downstream copies them freely.
type Signal struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	SLPrice       float64   `json:"sl_price"`
	TPPrice       float64   `json:"tp_price"`
	SpikeRatio    float64   `json:"spike_ratio"`
	EmaFastValue  float64   `json:"ema_fast_value"`
	EmaSlowValue  float64   `json:"ema_slow_value"`
	CurrentVolume float64   `json:"current_volume"`
	AvgVolume     float64   `json:"avg_volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Strategy evaluates one symbol against in-memory market data. Evaluate
// returns (nil, nil) when no signal condition is met; it reads exclusively
// from the MemoryStore and performs no I/O.
type Strategy interface {
	Name() string
	RequiredTimeframes() []string
	Evaluate(symbol string) (*Signal, error)
}

// Factory builds a strategy from config and the shared store
type Factory func(cfg *config.Config, st *store.MemoryStore) Strategy

var registry = map[string]Factory{}

// legacy dotted names from the python-era config, mapped to registry keys
var legacyNames = map[string]string{
	"ema_volume_strategy.EmaVolumeStrategy":         "ema_volume",
	"rsi_macd_strategy.RsiMacdStrategy":             "rsi_macd",
	"volatility_ema_strategy.VolatilityEmaStrategy": "volatility_ema",
}

// Register adds a strategy factory under a short key. Called from init
// functions of the concrete strategies.
func Register(key string, f Factory) {
	if _, dup := registry[key]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", key))
	}
	registry[key] = f
}

// New looks up a registered strategy by key and constructs it
func New(key string, cfg *config.Config, st *store.MemoryStore) (Strategy, error) {
	if mapped, ok := legacyNames[key]; ok {
		key = mapped
	}
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", key, Available())
	}
	return f(cfg, st), nil
}

// Available returns the sorted registry keys
func Available() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// closes extracts the close column from a candle snapshot
func closes(candles []store.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// volumes extracts the volume column from a candle snapshot
func volumes(candles []store.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

// spikeRatio compares the last closed bar's volume against the mean of the
// ten bars before it. The baseline window [-11:-1] deliberately excludes the
// latest bar itself. Returns (ratio, baseline, ok); ok is false when fewer
// than 11 bars exist or the baseline is not positive.
func spikeRatio(volume []float64) (float64, float64, bool) {
	n := len(volume)
	if n < 11 {
		return 0, 0, false
	}
	sum := 0.0
	for _, v := range volume[n-11 : n-1] {
		sum += v
	}
	avg := sum / 10
	if avg <= 0 {
		return 0, avg, false
	}
	return volume[n-1] / avg, avg, true
}
