// Package dispatch routes accepted signals to their three consumers: the
// audit store, the notifier, and the position watcher, in that order.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"signalbot/internal/database"
	"signalbot/internal/events"
	"signalbot/internal/logging"
	"signalbot/internal/store"
	"signalbot/internal/strategy"
	"signalbot/internal/watcher"
)

// snapshotCandles is how many recent 1m candles are stored with a signal
const snapshotCandles = 30

// SignalStore persists the signal and its market snapshot
type SignalStore interface {
	SaveSignalWithSnapshot(ctx context.Context, sig *database.SignalRecord, snap *database.MarketSnapshot) (int64, error)
}

// Sender delivers a human-readable message, best effort
type Sender interface {
	Send(ctx context.Context, text string)
}

// Tracker registers virtual positions
type Tracker interface {
	Track(pos watcher.VirtualPosition) error
}

// Dispatcher persists, announces, and tracks each accepted signal. It also
// consumes position-close events and announces those.
type Dispatcher struct {
	signals  SignalStore
	notifier Sender
	tracker  Tracker
	store    *store.MemoryStore
	bus      *events.Bus
	log      zerolog.Logger

	done chan struct{}
}

// NewDispatcher wires the dispatcher to its consumers
func NewDispatcher(signals SignalStore, notifier Sender, tracker Tracker, st *store.MemoryStore, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		signals:  signals,
		notifier: notifier,
		tracker:  tracker,
		store:    st,
		bus:      bus,
		log:      logging.Component("dispatch"),
	}
}

// Dispatch handles one accepted signal: the DB write comes first so a crash
// mid-dispatch can lose a notification but never an audit row for a tracked
// position. A notifier failure does not stop tracking. A DB failure aborts
// the dispatch; no position is tracked without its audit row.
func (d *Dispatcher) Dispatch(ctx context.Context, sig *strategy.Signal) error {
	rec := &database.SignalRecord{
		Symbol:     sig.Symbol,
		Side:       string(sig.Side),
		EntryPrice: sig.EntryPrice,
		TPPrice:    sig.TPPrice,
		SLPrice:    sig.SLPrice,
		SpikeRatio: sig.SpikeRatio,
		CreatedAt:  sig.Timestamp,
	}
	snap := &database.MarketSnapshot{
		EmaFastValue:   sig.EmaFastValue,
		EmaSlowValue:   sig.EmaSlowValue,
		CurrentVolume:  sig.CurrentVolume,
		AvgVolume:      sig.AvgVolume,
		CandleDataJSON: d.recentCandlesJSON(sig.Symbol),
	}

	id, err := d.signals.SaveSignalWithSnapshot(ctx, rec, snap)
	if err != nil {
		return fmt.Errorf("persist signal for %s: %w", sig.Symbol, err)
	}

	d.notifier.Send(ctx, formatSignalMessage(sig))

	if err := d.tracker.Track(watcher.VirtualPosition{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		EntryPrice: sig.EntryPrice,
		TPPrice:    sig.TPPrice,
		SLPrice:    sig.SLPrice,
		SignalID:   id,
		OpenedAt:   sig.Timestamp,
	}); err != nil {
		d.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("signal not tracked")
	}
	return nil
}

// recentCandlesJSON captures the last 1m candles for the snapshot row
func (d *Dispatcher) recentCandlesJSON(symbol string) *string {
	candles := d.store.GetCandles(symbol, "1m")
	if len(candles) == 0 {
		return nil
	}
	if len(candles) > snapshotCandles {
		candles = candles[len(candles)-snapshotCandles:]
	}
	data, err := json.Marshal(candles)
	if err != nil {
		d.log.Warn().Err(err).Str("symbol", symbol).Msg("candle snapshot marshal failed")
		return nil
	}
	s := string(data)
	return &s
}

// Start begins consuming position-close events
func (d *Dispatcher) Start() {
	d.done = make(chan struct{})
	ch := d.bus.Subscribe(16)
	go func() {
		defer close(d.done)
		for ev := range ch {
			d.notifier.Send(context.Background(), formatCloseMessage(ev))
		}
	}()
}

// Wait blocks until the close-event consumer exits, which happens when the
// bus closes
func (d *Dispatcher) Wait() {
	if d.done != nil {
		<-d.done
	}
}

func formatSignalMessage(sig *strategy.Signal) string {
	arrow := "📈"
	if sig.Side == strategy.SideShort {
		arrow = "📉"
	}
	return fmt.Sprintf(
		"%s <b>%s</b> %s\nEntry: <code>%.6f</code>\nTP: <code>%.6f</code>\nSL: <code>%.6f</code>\nSpike: %.2fx (vol %.2f vs avg %.2f)",
		arrow, sig.Symbol, sig.Side,
		sig.EntryPrice, sig.TPPrice, sig.SLPrice,
		sig.SpikeRatio, sig.CurrentVolume, sig.AvgVolume)
}

func formatCloseMessage(ev events.PositionClosed) string {
	outcome := "✅"
	if ev.PnlPercent < 0 {
		outcome = "❌"
	}
	return fmt.Sprintf(
		"%s <b>%s</b> %s closed: %s\nEntry: <code>%.6f</code> → Close: <code>%.6f</code>\nPnL: %.2f%%",
		outcome, ev.Symbol, ev.Side, ev.Reason,
		ev.EntryPrice, ev.ClosePrice, ev.PnlPercent)
}
