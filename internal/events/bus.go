// Package events decouples the position watcher from the components that
// react to position closes.
package events

import (
	"sync"
	"time"
)

// PositionClosed is published when a virtual position resolves
type PositionClosed struct {
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	SignalID   int64     `json:"signal_id"`
	EntryPrice float64   `json:"entry_price"`
	ClosePrice float64   `json:"close_price"`
	PnlPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Bus is a small fan-out for close events. Publish never blocks; a
// subscriber that falls behind loses events rather than stalling the
// watcher tick.
type Bus struct {
	mu     sync.Mutex
	subs   []chan PositionClosed
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener with the given channel buffer
func (b *Bus) Subscribe(buffer int) <-chan PositionClosed {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan PositionClosed, buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers the event to every subscriber without blocking
func (b *Bus) Publish(ev PositionClosed) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // subscriber backlog full, drop
		}
	}
}

// Close ends delivery and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
