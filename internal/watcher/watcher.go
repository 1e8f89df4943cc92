// Package watcher resolves virtual positions against observed prices. No
// orders exist anywhere; a position closes purely because the mark price
// crossed its TP or SL, or because it timed out.
package watcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/database"
	"signalbot/internal/events"
	"signalbot/internal/logging"
	"signalbot/internal/store"
	"signalbot/internal/strategy"
)

// VirtualPosition is one live paper trade
type VirtualPosition struct {
	Symbol     string        `json:"symbol"`
	Side       strategy.Side `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	TPPrice    float64       `json:"tp_price"`
	SLPrice    float64       `json:"sl_price"`
	SignalID   int64         `json:"signal_id"`
	OpenedAt   time.Time     `json:"opened_at"`
}

// TradeSaver persists closed positions
type TradeSaver interface {
	SaveTrade(ctx context.Context, t *database.TradeRecord) error
}

// Watcher holds live positions and checks them on a fixed tick. At most one
// position per symbol exists at any time.
type Watcher struct {
	store    *store.MemoryStore
	trades   TradeSaver
	bus      *events.Bus
	mirror   *database.PositionMirror
	tick     time.Duration
	timeStop time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	positions map[string]*VirtualPosition

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher ticking every tick, timing positions out
// after timeStop
func NewWatcher(st *store.MemoryStore, trades TradeSaver, bus *events.Bus, mirror *database.PositionMirror, tick, timeStop time.Duration) *Watcher {
	return &Watcher{
		store:     st,
		trades:    trades,
		bus:       bus,
		mirror:    mirror,
		tick:      tick,
		timeStop:  timeStop,
		log:       logging.Component("watcher"),
		positions: make(map[string]*VirtualPosition),
	}
}

// Track registers a new position. A symbol that is already tracked is
// rejected; the caller decides whether that is worth logging.
func (w *Watcher) Track(pos VirtualPosition) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.positions[pos.Symbol]; exists {
		return fmt.Errorf("position for %s already tracked", pos.Symbol)
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}
	w.positions[pos.Symbol] = &pos

	if w.mirror != nil {
		w.mirror.Save(context.Background(), mirrorFromPosition(pos))
	}
	w.log.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.EntryPrice).
		Float64("tp", pos.TPPrice).
		Float64("sl", pos.SLPrice).
		Msg("tracking position")
	return nil
}

// Restore re-registers positions mirrored before a restart
func (w *Watcher) Restore(mirrored []database.MirroredPosition) {
	for _, m := range mirrored {
		pos := VirtualPosition{
			Symbol:     m.Symbol,
			Side:       strategy.Side(m.Side),
			EntryPrice: m.EntryPrice,
			TPPrice:    m.TPPrice,
			SLPrice:    m.SLPrice,
			SignalID:   m.SignalID,
			OpenedAt:   m.OpenedAt,
		}
		if err := w.Track(pos); err != nil {
			w.log.Warn().Err(err).Str("symbol", m.Symbol).Msg("restore skipped")
		}
	}
	if len(mirrored) > 0 {
		w.log.Info().Int("count", len(mirrored)).Msg("restored mirrored positions")
	}
}

// TrackedSymbols returns the sorted symbols with a live position
func (w *Watcher) TrackedSymbols() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.positions))
	for sym := range w.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// TrackedPositions returns a copy of every live position
func (w *Watcher) TrackedPositions() []VirtualPosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]VirtualPosition, 0, len(w.positions))
	for _, p := range w.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// IsTracked reports whether the symbol has a live position
func (w *Watcher) IsTracked(symbol string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.positions[symbol]
	return ok
}

// Start launches the tick loop
func (w *Watcher) Start() {
	w.stopChan = make(chan struct{})
	w.wg.Add(1)
	go w.run()
}

// Stop ends the tick loop and waits for it
func (w *Watcher) Stop() {
	if w.stopChan == nil {
		return
	}
	close(w.stopChan)
	w.wg.Wait()
	w.log.Info().Msg("watcher stopped")
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkPositions(context.Background(), time.Now().UTC())
		}
	}
}

// checkPositions resolves every position whose exit condition is met.
// TP is checked before SL, and both before the time stop.
func (w *Watcher) checkPositions(ctx context.Context, now time.Time) {
	w.mu.Lock()
	snapshot := make([]*VirtualPosition, 0, len(w.positions))
	for _, p := range w.positions {
		snapshot = append(snapshot, p)
	}
	w.mu.Unlock()

	for _, pos := range snapshot {
		price, ok := w.store.GetPrice(pos.Symbol)
		if !ok {
			continue
		}
		reason, hit := exitReason(pos, price, now, w.timeStop)
		if !hit {
			continue
		}
		w.closePosition(ctx, pos, price, reason, now)
	}
}

// exitReason applies the exit rules in priority order
func exitReason(pos *VirtualPosition, price float64, now time.Time, timeStop time.Duration) (string, bool) {
	if pos.Side == strategy.SideLong {
		if price >= pos.TPPrice {
			return database.CloseReasonTP, true
		}
		if price <= pos.SLPrice {
			return database.CloseReasonSL, true
		}
	} else {
		if price <= pos.TPPrice {
			return database.CloseReasonTP, true
		}
		if price >= pos.SLPrice {
			return database.CloseReasonSL, true
		}
	}
	if now.Sub(pos.OpenedAt) > timeStop {
		return database.CloseReasonTimeout, true
	}
	return "", false
}

// closePosition removes the position, persists the trade, and publishes the
// close event. A failed trade write loses an audit row, never resurrects the
// position.
func (w *Watcher) closePosition(ctx context.Context, pos *VirtualPosition, price float64, reason string, now time.Time) {
	w.mu.Lock()
	delete(w.positions, pos.Symbol)
	w.mu.Unlock()

	if w.mirror != nil {
		w.mirror.Delete(ctx, pos.Symbol)
	}

	pnl := pnlPercent(pos, price)
	trade := &database.TradeRecord{
		SignalID:    pos.SignalID,
		CloseReason: reason,
		ClosePrice:  price,
		PnlPercent:  pnl,
		ClosedAt:    now,
	}
	if err := w.trades.SaveTrade(ctx, trade); err != nil {
		w.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("trade record write failed")
	}

	w.log.Info().
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Float64("close", price).
		Float64("pnl_percent", pnl).
		Msg("position closed")

	w.bus.Publish(events.PositionClosed{
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		SignalID:   pos.SignalID,
		EntryPrice: pos.EntryPrice,
		ClosePrice: price,
		PnlPercent: pnl,
		Reason:     reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   now,
	})
}

// pnlPercent is the unleveraged return of the position at close
func pnlPercent(pos *VirtualPosition, closePrice float64) float64 {
	if pos.EntryPrice == 0 {
		return 0
	}
	if pos.Side == strategy.SideLong {
		return (closePrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	return (pos.EntryPrice - closePrice) / pos.EntryPrice * 100
}

func mirrorFromPosition(pos VirtualPosition) database.MirroredPosition {
	return database.MirroredPosition{
		Symbol:     pos.Symbol,
		Side:       string(pos.Side),
		EntryPrice: pos.EntryPrice,
		TPPrice:    pos.TPPrice,
		SLPrice:    pos.SLPrice,
		SignalID:   pos.SignalID,
		OpenedAt:   pos.OpenedAt,
	}
}
