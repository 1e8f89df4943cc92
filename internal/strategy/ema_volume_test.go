package strategy

import (
	"testing"

	"signalbot/config"
	"signalbot/internal/store"
)

// seedBreakout fills the store with 50 closed 1m bars and 6 closed 5m bars.
// The 5m range over the last 5 closed bars (excluding the tail) is 95..105.
// All 1m volumes are 10 except the last bar, which the caller controls.
func seedBreakout(st *store.MemoryStore, symbol string, lastClose, lastVolume float64) {
	for i := 0; i < 50; i++ {
		c := store.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     100, High: 100.5, Low: 99.5, Close: 100,
			Volume: 10,
		}
		if i == 49 {
			c.Close = lastClose
			c.High = lastClose + 0.5
			c.Low = lastClose - 0.5
			if lastClose < 100 {
				c.High, c.Low = 100, lastClose-0.5
			}
			c.Volume = lastVolume
		}
		st.UpdateCandle(symbol, "1m", c, true)
	}
	for i := 0; i < 6; i++ {
		st.UpdateCandle(symbol, "5m", store.Candle{
			OpenTime: int64(i) * 300_000,
			Open:     100, High: 105, Low: 95, Close: 100,
			Volume: 50,
		}, true)
	}
}

func TestEmaVolumeLongBreakout(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(300)
	seedBreakout(st, "BTCUSDT", 110, 30)

	s := NewEmaVolume(cfg, st)
	sig, err := s.Evaluate("BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a signal")
	}

	if sig.Side != SideLong {
		t.Errorf("Side = %s, want LONG", sig.Side)
	}
	if sig.EntryPrice != 110 {
		t.Errorf("Entry = %f, want 110", sig.EntryPrice)
	}
	// SL is the tighter of range-low minus offset and the 2.5% cap:
	// max(95*0.9995, 110*0.975) = 107.25
	if !almostEqual(sig.SLPrice, 107.25, 1e-9) {
		t.Errorf("SL = %f, want 107.25", sig.SLPrice)
	}
	// TP = 110 + (110-107.25)*1.4 = 113.85
	if !almostEqual(sig.TPPrice, 113.85, 1e-9) {
		t.Errorf("TP = %f, want 113.85", sig.TPPrice)
	}
	if !(sig.SLPrice < sig.EntryPrice && sig.EntryPrice < sig.TPPrice) {
		t.Errorf("LONG price ordering violated: sl=%f entry=%f tp=%f",
			sig.SLPrice, sig.EntryPrice, sig.TPPrice)
	}
	if !almostEqual(sig.SpikeRatio, 3, 1e-9) {
		t.Errorf("SpikeRatio = %f, want 3", sig.SpikeRatio)
	}
	if !almostEqual(sig.AvgVolume, 10, 1e-9) {
		t.Errorf("AvgVolume = %f, want 10", sig.AvgVolume)
	}
}

func TestEmaVolumeShortBreakout(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(300)
	seedBreakout(st, "ETHUSDT", 90, 30)

	s := NewEmaVolume(cfg, st)
	sig, err := s.Evaluate("ETHUSDT")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a signal")
	}

	if sig.Side != SideShort {
		t.Errorf("Side = %s, want SHORT", sig.Side)
	}
	// min(105*1.0005, 90*1.025) = 92.25
	if !almostEqual(sig.SLPrice, 92.25, 1e-9) {
		t.Errorf("SL = %f, want 92.25", sig.SLPrice)
	}
	// TP = 90 - (92.25-90)*1.4 = 86.85
	if !almostEqual(sig.TPPrice, 86.85, 1e-9) {
		t.Errorf("TP = %f, want 86.85", sig.TPPrice)
	}
	if !(sig.TPPrice < sig.EntryPrice && sig.EntryPrice < sig.SLPrice) {
		t.Errorf("SHORT price ordering violated: sl=%f entry=%f tp=%f",
			sig.SLPrice, sig.EntryPrice, sig.TPPrice)
	}
}

func TestEmaVolumeSpikeJustBelowBand(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(300)
	// Baseline mean is 10, so this bar is 0.99 * spike_min * mean
	seedBreakout(st, "BTCUSDT", 110, 0.99*cfg.StrategyConfig.VolumeSpikeMin*10)

	s := NewEmaVolume(cfg, st)
	sig, err := s.Evaluate("BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sig != nil {
		t.Errorf("Expected no signal just below the spike band, got %+v", sig)
	}
}

func TestEmaVolumeSpikeAboveBand(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(300)
	seedBreakout(st, "BTCUSDT", 110, 70) // ratio 7, above max 6

	s := NewEmaVolume(cfg, st)
	sig, err := s.Evaluate("BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sig != nil {
		t.Errorf("Expected no signal above the spike band, got %+v", sig)
	}
}

func TestEmaVolumeNoBreakout(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(300)
	// Spiked volume but the close stays inside the 95..105 range
	seedBreakout(st, "BTCUSDT", 100, 30)

	s := NewEmaVolume(cfg, st)
	sig, err := s.Evaluate("BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sig != nil {
		t.Errorf("Expected no signal without a breakout, got %+v", sig)
	}
}

func TestEmaVolumeInsufficientData(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(300)
	for i := 0; i < 20; i++ {
		st.UpdateCandle("BTCUSDT", "1m", store.Candle{
			OpenTime: int64(i) * 60_000, Close: 100, Volume: 10,
		}, true)
	}

	s := NewEmaVolume(cfg, st)
	sig, err := s.Evaluate("BTCUSDT")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if sig != nil {
		t.Errorf("Expected no signal with short history, got %+v", sig)
	}
}

func TestStrategyRegistry(t *testing.T) {
	cfg := config.DefaultConfig()
	st := store.NewMemoryStore(200)

	for _, key := range []string{"ema_volume", "rsi_macd", "volatility_ema"} {
		s, err := New(key, cfg, st)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", key, err)
		}
		if s.Name() != key {
			t.Errorf("Name = %q, want %q", s.Name(), key)
		}
	}

	// Dotted python-era names still resolve
	s, err := New("ema_volume_strategy.EmaVolumeStrategy", cfg, st)
	if err != nil {
		t.Fatalf("Legacy name lookup failed: %v", err)
	}
	if s.Name() != "ema_volume" {
		t.Errorf("Name = %q, want ema_volume", s.Name())
	}

	if _, err := New("nope", cfg, st); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}
