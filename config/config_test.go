package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.ScanConfig.ScanIntervalSeconds != 300 {
		t.Errorf("scan_interval_seconds = %d, want 300", cfg.ScanConfig.ScanIntervalSeconds)
	}
	if cfg.StrategyConfig.EmaFast != 9 || cfg.StrategyConfig.EmaSlow != 21 {
		t.Errorf("EMA spans = %d/%d, want 9/21", cfg.StrategyConfig.EmaFast, cfg.StrategyConfig.EmaSlow)
	}
	if len(cfg.StreamConfig.KlineTimeframes) != 2 {
		t.Errorf("timeframes = %v, want [1m 5m]", cfg.StreamConfig.KlineTimeframes)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Missing file should not be an error: %v", err)
	}
	if cfg.ScanConfig.ActiveStrategy != "ema_volume" {
		t.Errorf("active_strategy = %q, want ema_volume", cfg.ScanConfig.ActiveStrategy)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"scan": {"scan_interval_seconds": 60, "active_strategy": "rsi_macd"},
		"risk": {"rr_ratio": 2.5},
		"stream": {"kline_timeframes": ["1m", "15m"]}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ScanConfig.ScanIntervalSeconds != 60 {
		t.Errorf("scan_interval_seconds = %d, want 60", cfg.ScanConfig.ScanIntervalSeconds)
	}
	if cfg.ScanConfig.ActiveStrategy != "rsi_macd" {
		t.Errorf("active_strategy = %q, want rsi_macd", cfg.ScanConfig.ActiveStrategy)
	}
	if cfg.RiskConfig.RRRatio != 2.5 {
		t.Errorf("rr_ratio = %f, want 2.5", cfg.RiskConfig.RRRatio)
	}
	// Untouched sections keep their defaults
	if cfg.StrategyConfig.VolumeSpikeMin != 2.5 {
		t.Errorf("volume_spike_min = %f, want default 2.5", cfg.StrategyConfig.VolumeSpikeMin)
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok123")
	t.Setenv("SCAN_INTERVAL_SECONDS", "120")
	t.Setenv("RR_RATIO", "1.8")
	t.Setenv("WS_KLINE_TIMEFRAMES", "1m, 5m ,15m")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.TelegramConfig.BotToken != "tok123" {
		t.Errorf("bot token = %q, want tok123", cfg.TelegramConfig.BotToken)
	}
	if cfg.ScanConfig.ScanIntervalSeconds != 120 {
		t.Errorf("scan_interval_seconds = %d, want 120", cfg.ScanConfig.ScanIntervalSeconds)
	}
	if cfg.RiskConfig.RRRatio != 1.8 {
		t.Errorf("rr_ratio = %f, want 1.8", cfg.RiskConfig.RRRatio)
	}
	want := []string{"1m", "5m", "15m"}
	if len(cfg.StreamConfig.KlineTimeframes) != 3 {
		t.Fatalf("timeframes = %v, want %v", cfg.StreamConfig.KlineTimeframes, want)
	}
	for i, tf := range want {
		if cfg.StreamConfig.KlineTimeframes[i] != tf {
			t.Errorf("timeframes[%d] = %q, want %q", i, cfg.StreamConfig.KlineTimeframes[i], tf)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabaseConfig.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty database url")
	}

	cfg = DefaultConfig()
	cfg.StrategyConfig.VolumeSpikeMin = 7.0 // above max 6.0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for inverted spike band")
	}
}
