package bot

import (
	"path/filepath"
	"testing"

	"signalbot/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DatabaseConfig.URL = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func TestNewWiresComponents(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.db.Close()

	if b.strat.Name() != "ema_volume" {
		t.Errorf("strategy = %s, want ema_volume", b.strat.Name())
	}
	// Port 0 disables the API server
	if b.apiServer != nil {
		t.Error("API server should be nil when port is 0")
	}

	status := b.ScannerStatus()
	if status.Running {
		t.Error("Not running before Run is called")
	}
	if status.ActiveStrategy != "ema_volume" {
		t.Errorf("status strategy = %s, want ema_volume", status.ActiveStrategy)
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScanConfig.ActiveStrategy = "nope"

	if _, err := New(cfg); err == nil {
		t.Fatal("Expected error for unknown strategy")
	}
}

func TestStreamTimeframesUnion(t *testing.T) {
	cfg := testConfig(t)
	cfg.ScanConfig.ActiveStrategy = "rsi_macd" // reads 15m, not in defaults

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.db.Close()

	tfs := b.streamTimeframes()
	want := map[string]bool{"1m": true, "5m": true, "15m": true}
	if len(tfs) != len(want) {
		t.Fatalf("timeframes = %v, want 1m/5m/15m", tfs)
	}
	for _, tf := range tfs {
		if !want[tf] {
			t.Errorf("unexpected timeframe %s", tf)
		}
	}
}

func TestSymbolListCopy(t *testing.T) {
	b, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.db.Close()

	b.setSymbols([]string{"BTCUSDT", "ETHUSDT"})
	got := b.currentSymbols()
	got[0] = "MUTATED"

	if b.currentSymbols()[0] != "BTCUSDT" {
		t.Error("currentSymbols must return a copy")
	}
}
