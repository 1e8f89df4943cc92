package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"signalbot/internal/store"
)

// fakeFetcher serves deterministic candles and can fail selected pairs
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []string
	failFor  map[string]bool
	inFlight int32
	maxSeen  int32
}

func (f *fakeFetcher) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]store.Candle, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, symbol+"/"+interval)
	f.mu.Unlock()

	if f.failFor[symbol+"/"+interval] {
		return nil, errors.New("rate limited")
	}

	candles := make([]store.Candle, limit)
	for i := range candles {
		candles[i] = store.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     100, High: 101, Low: 99, Close: 100.5,
			Volume: 10,
		}
	}
	return candles, nil
}

func TestPreloadFillsStore(t *testing.T) {
	st := store.NewMemoryStore(300)
	f := &fakeFetcher{}
	l := NewLoader(f, st, 250, 5)

	loaded := l.Preload(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, []string{"1m", "5m"})
	if loaded != 4 {
		t.Fatalf("loaded = %d, want 4 pairs", loaded)
	}

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		for _, tf := range []string{"1m", "5m"} {
			if n := st.CandleCount(symbol, tf); n != 250 {
				t.Errorf("%s/%s candle count = %d, want 250", symbol, tf, n)
			}
		}
	}
}

func TestPreloadSkipsFailedPair(t *testing.T) {
	st := store.NewMemoryStore(300)
	f := &fakeFetcher{failFor: map[string]bool{"ETHUSDT/1m": true}}
	l := NewLoader(f, st, 100, 5)

	loaded := l.Preload(context.Background(), []string{"BTCUSDT", "ETHUSDT"}, []string{"1m"})
	if loaded != 1 {
		t.Fatalf("loaded = %d, want 1 (failed pair skipped)", loaded)
	}
	if n := st.CandleCount("BTCUSDT", "1m"); n != 100 {
		t.Errorf("BTCUSDT count = %d, want 100", n)
	}
	if n := st.CandleCount("ETHUSDT", "1m"); n != 0 {
		t.Errorf("ETHUSDT count = %d, want 0 after failure", n)
	}
}

func TestPreloadRespectsConcurrencyBound(t *testing.T) {
	st := store.NewMemoryStore(300)
	f := &fakeFetcher{}
	l := NewLoader(f, st, 10, 2)

	symbols := make([]string, 10)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%dUSDT", i)
	}
	l.Preload(context.Background(), symbols, []string{"1m"})

	if max := atomic.LoadInt32(&f.maxSeen); max > 2 {
		t.Errorf("Observed %d concurrent fetches, bound is 2", max)
	}
	if len(f.calls) != 10 {
		t.Errorf("Got %d calls, want 10", len(f.calls))
	}
}

func TestPreloadCancellation(t *testing.T) {
	st := store.NewMemoryStore(300)
	f := &fakeFetcher{}
	l := NewLoader(f, st, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	symbols := make([]string, 50)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%dUSDT", i)
	}
	loaded := l.Preload(ctx, symbols, []string{"1m"})

	// The loop stops dispatching once the context is done
	if loaded == 50 {
		t.Error("Expected cancellation to cut the preload short")
	}
}
