package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/logging"
)

const positionKeyPrefix = "signalbot:position:"

// MirroredPosition is the Redis copy of a live virtual position. The mirror
// exists so tracked positions survive a process restart; the in-memory
// watcher state stays authoritative.
type MirroredPosition struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	TPPrice    float64   `json:"tp_price"`
	SLPrice    float64   `json:"sl_price"`
	SignalID   int64     `json:"signal_id"`
	OpenedAt   time.Time `json:"opened_at"`
}

// PositionMirror copies live positions to Redis. All methods are no-ops when
// the mirror is disabled, and failures are logged, never propagated: losing
// the mirror must not affect trading state.
type PositionMirror struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewPositionMirror connects to Redis when an address is configured; an empty
// address disables the mirror
func NewPositionMirror(cfg config.RedisConfig, ttl time.Duration) *PositionMirror {
	m := &PositionMirror{ttl: ttl, log: logging.Component("position_mirror")}
	if cfg.Addr == "" {
		return m
	}
	m.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.log.Warn().Err(err).Msg("redis unreachable, position mirror disabled")
		m.client = nil
		return m
	}
	m.log.Info().Str("addr", cfg.Addr).Msg("position mirror enabled")
	return m
}

// Enabled reports whether the mirror has a live connection
func (m *PositionMirror) Enabled() bool {
	return m.client != nil
}

// Save writes one position, keyed by symbol
func (m *PositionMirror) Save(ctx context.Context, p MirroredPosition) {
	if m.client == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("mirror marshal failed")
		return
	}
	if err := m.client.Set(ctx, positionKeyPrefix+p.Symbol, data, m.ttl).Err(); err != nil {
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Msg("mirror save failed")
	}
}

// Delete removes a position after it closes
func (m *PositionMirror) Delete(ctx context.Context, symbol string) {
	if m.client == nil {
		return
	}
	if err := m.client.Del(ctx, positionKeyPrefix+symbol).Err(); err != nil {
		m.log.Warn().Err(err).Str("symbol", symbol).Msg("mirror delete failed")
	}
}

// LoadAll returns every mirrored position, for restoring tracked state at
// startup
func (m *PositionMirror) LoadAll(ctx context.Context) ([]MirroredPosition, error) {
	if m.client == nil {
		return nil, nil
	}

	var out []MirroredPosition
	iter := m.client.Scan(ctx, 0, positionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := m.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var p MirroredPosition
		if err := json.Unmarshal(data, &p); err != nil {
			m.log.Warn().Err(err).Str("key", iter.Val()).Msg("skipping corrupt mirror entry")
			continue
		}
		out = append(out, p)
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("scan mirrored positions: %w", err)
	}
	return out, nil
}
