package events

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBus()
	a := b.Subscribe(1)
	c := b.Subscribe(1)

	ev := PositionClosed{Symbol: "BTCUSDT", Reason: "TP", PnlPercent: 10.01}
	b.Publish(ev)

	for _, ch := range []<-chan PositionClosed{a, c} {
		select {
		case got := <-ch:
			if got.Symbol != "BTCUSDT" || got.Reason != "TP" {
				t.Errorf("Unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("Subscriber did not receive the event")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)

	b.Publish(PositionClosed{Symbol: "A"})
	b.Publish(PositionClosed{Symbol: "B"}) // buffer full, dropped

	got := <-ch
	if got.Symbol != "A" {
		t.Errorf("Got %s, want A", got.Symbol)
	}
	select {
	case ev := <-ch:
		t.Errorf("Expected drop, got %+v", ev)
	default:
	}
}

func TestCloseEndsSubscribers(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe(1)
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("Expected closed channel")
	}

	// Publishing and closing again are harmless
	b.Publish(PositionClosed{Symbol: "X"})
	b.Close()

	if late := b.Subscribe(1); late == nil {
		t.Error("Subscribe after close should return a closed channel, not nil")
	}
}
