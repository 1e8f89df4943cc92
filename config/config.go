package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all engine configuration
type Config struct {
	TelegramConfig TelegramConfig `json:"telegram"`
	MarketConfig   MarketConfig   `json:"market"`
	ScanConfig     ScanConfig     `json:"scan"`
	StrategyConfig StrategyConfig `json:"strategy"`
	RiskConfig     RiskConfig     `json:"risk"`
	StreamConfig   StreamConfig   `json:"stream"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	ServerConfig   ServerConfig   `json:"server"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

// TelegramConfig holds notifier credentials
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// MarketConfig controls which symbols are tracked
type MarketConfig struct {
	TopVolumeLimit     int `json:"top_volume_limit"`     // Max symbols tracked
	MarketRefreshHours int `json:"market_refresh_hours"` // Symbol-list refresh period
}

// ScanConfig controls the scan loop and history preload
type ScanConfig struct {
	ScanIntervalSeconds  int    `json:"scan_interval_seconds"`
	TradeControlSeconds  int    `json:"trade_control_seconds"` // Watcher tick period
	MaxParallelTasks     int    `json:"max_parallel_tasks"`    // Scan fan-out bound
	MaxTrackedSignals    int    `json:"max_tracked_signals"`   // Top-N dispatched per scan
	WarmupSeconds        int    `json:"warmup_seconds"`        // Delay before first scan
	ActiveStrategy       string `json:"active_strategy"`       // Registry key, e.g. "ema_volume"
	PreloadLimit         int    `json:"preload_limit"`         // Closed candles fetched per symbol+timeframe
	PreloadMaxConcurrent int    `json:"preload_max_concurrent"`
}

// StrategyConfig holds indicator and volume-filter parameters
type StrategyConfig struct {
	EmaFast             int     `json:"ema_fast"`
	EmaSlow             int     `json:"ema_slow"`
	VolumeSpikeMin      float64 `json:"volume_spike_min"`
	VolumeSpikeMax      float64 `json:"volume_spike_max"`
	BreakoutRangePeriod int     `json:"breakout_range_period"` // Closed 5m bars in the breakout range
}

// RiskConfig holds virtual TP/SL parameters
type RiskConfig struct {
	RRRatio        float64 `json:"rr_ratio"`         // TP distance = risk * rr_ratio
	MaxStopPercent float64 `json:"max_stop_percent"` // SL cap as fraction of entry
	StopOffset     float64 `json:"stop_offset"`      // Nudge past the range extremum
	TimeStopHours  int     `json:"time_stop_hours"`  // Timeout exit
}

// StreamConfig holds WebSocket settings
type StreamConfig struct {
	KlineTimeframes  []string `json:"kline_timeframes"`
	ReconnectDelay   int      `json:"reconnect_delay"` // Seconds between reconnect attempts
	CandleBufferSize int      `json:"candle_buffer_size"`
}

// DatabaseConfig holds the audit store connection.
// URL selects the driver: postgres:// uses pgx, anything else is a SQLite file path.
type DatabaseConfig struct {
	URL string `json:"url"`
}

// RedisConfig holds the optional open-position mirror settings
type RedisConfig struct {
	Addr     string `json:"addr"` // Empty disables the mirror
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ServerConfig holds the read-only status API settings
type ServerConfig struct {
	Port int `json:"port"` // 0 disables the API
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // Console writer when false
}

// DefaultConfig returns a config with all defaults applied
func DefaultConfig() *Config {
	return &Config{
		MarketConfig: MarketConfig{
			TopVolumeLimit:     100,
			MarketRefreshHours: 1,
		},
		ScanConfig: ScanConfig{
			ScanIntervalSeconds:  300,
			TradeControlSeconds:  10,
			MaxParallelTasks:     15,
			MaxTrackedSignals:    3,
			WarmupSeconds:        90,
			ActiveStrategy:       "ema_volume",
			PreloadLimit:         250,
			PreloadMaxConcurrent: 20,
		},
		StrategyConfig: StrategyConfig{
			EmaFast:             9,
			EmaSlow:             21,
			VolumeSpikeMin:      2.5,
			VolumeSpikeMax:      6.0,
			BreakoutRangePeriod: 5,
		},
		RiskConfig: RiskConfig{
			RRRatio:        1.4,
			MaxStopPercent: 0.025,
			StopOffset:     0.0005,
			TimeStopHours:  4,
		},
		StreamConfig: StreamConfig{
			KlineTimeframes:  []string{"1m", "5m"},
			ReconnectDelay:   5,
			CandleBufferSize: 200,
		},
		DatabaseConfig: DatabaseConfig{
			URL: "signalbot.db",
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the JSON config file (if present), applies defaults for
// anything unset, then applies environment variable overrides.
// A missing file is not an error; an unreadable or invalid one is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values
func (c *Config) applyEnvOverrides() {
	envStr(&c.TelegramConfig.BotToken, "TELEGRAM_BOT_TOKEN")
	envStr(&c.TelegramConfig.ChatID, "TELEGRAM_CHAT_ID")

	envInt(&c.MarketConfig.TopVolumeLimit, "TOP_VOLUME_LIMIT")
	envInt(&c.MarketConfig.MarketRefreshHours, "MARKET_REFRESH_HOURS")

	envInt(&c.ScanConfig.ScanIntervalSeconds, "SCAN_INTERVAL_SECONDS")
	envInt(&c.ScanConfig.TradeControlSeconds, "TRADE_CONTROL_SECONDS")
	envInt(&c.ScanConfig.MaxParallelTasks, "MAX_PARALLEL_TASKS")
	envInt(&c.ScanConfig.MaxTrackedSignals, "MAX_TRACKED_SIGNALS")
	envInt(&c.ScanConfig.WarmupSeconds, "WARMUP_SECONDS")
	envStr(&c.ScanConfig.ActiveStrategy, "ACTIVE_STRATEGY")

	envInt(&c.StrategyConfig.EmaFast, "EMA_FAST")
	envInt(&c.StrategyConfig.EmaSlow, "EMA_SLOW")
	envFloat(&c.StrategyConfig.VolumeSpikeMin, "VOLUME_SPIKE_MIN")
	envFloat(&c.StrategyConfig.VolumeSpikeMax, "VOLUME_SPIKE_MAX")
	envInt(&c.StrategyConfig.BreakoutRangePeriod, "BREAKOUT_RANGE_PERIOD")

	envFloat(&c.RiskConfig.RRRatio, "RR_RATIO")
	envFloat(&c.RiskConfig.MaxStopPercent, "MAX_STOP_PERCENT")
	envFloat(&c.RiskConfig.StopOffset, "STOP_OFFSET")
	envInt(&c.RiskConfig.TimeStopHours, "TIME_STOP_HOURS")

	envInt(&c.StreamConfig.ReconnectDelay, "WS_RECONNECT_DELAY")
	if v := os.Getenv("WS_KLINE_TIMEFRAMES"); v != "" {
		var tfs []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				tfs = append(tfs, p)
			}
		}
		if len(tfs) > 0 {
			c.StreamConfig.KlineTimeframes = tfs
		}
	}

	envStr(&c.DatabaseConfig.URL, "DB_URL")
	envStr(&c.RedisConfig.Addr, "REDIS_ADDR")
	envStr(&c.RedisConfig.Password, "REDIS_PASSWORD")
	envInt(&c.RedisConfig.DB, "REDIS_DB")
	envInt(&c.ServerConfig.Port, "SERVER_PORT")
	envStr(&c.LoggingConfig.Level, "LOG_LEVEL")
}

// Validate rejects configurations the engine cannot start with
func (c *Config) Validate() error {
	if c.DatabaseConfig.URL == "" {
		return fmt.Errorf("database url must not be empty")
	}
	if len(c.StreamConfig.KlineTimeframes) == 0 {
		return fmt.Errorf("at least one kline timeframe is required")
	}
	if c.ScanConfig.MaxParallelTasks < 1 {
		return fmt.Errorf("max_parallel_tasks must be >= 1")
	}
	if c.StreamConfig.CandleBufferSize < 1 {
		return fmt.Errorf("candle_buffer_size must be >= 1")
	}
	if c.StrategyConfig.VolumeSpikeMin > c.StrategyConfig.VolumeSpikeMax {
		return fmt.Errorf("volume_spike_min %.2f exceeds volume_spike_max %.2f",
			c.StrategyConfig.VolumeSpikeMin, c.StrategyConfig.VolumeSpikeMax)
	}
	return nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
