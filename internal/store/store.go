// Package store holds the in-memory market data shared between the stream
// client, the history preloader, the strategies and the position watcher.
package store

import (
	"sort"
	"sync"
)

// Candle is one OHLCV bar. OpenTime is the bar's open timestamp in
// milliseconds, aligned to the timeframe boundary.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// candleBuffer is a fixed-capacity FIFO of candles for one symbol+timeframe.
// The tail candle may still be forming; everything before it is closed.
type candleBuffer struct {
	candles  []Candle
	capacity int
}

func newCandleBuffer(capacity int) *candleBuffer {
	return &candleBuffer{capacity: capacity}
}

// append adds a closed candle, evicting the oldest when full. A bar with the
// tail's open time replaces it, which keeps timestamps strictly increasing
// when preload and live stream overlap on the same bar.
func (b *candleBuffer) append(c Candle) {
	if n := len(b.candles); n > 0 && b.candles[n-1].OpenTime == c.OpenTime {
		b.candles[n-1] = c
		return
	}
	if len(b.candles) == b.capacity {
		copy(b.candles, b.candles[1:])
		b.candles[len(b.candles)-1] = c
		return
	}
	b.candles = append(b.candles, c)
}

// updateLast overwrites the tail when the open time matches, otherwise appends
func (b *candleBuffer) updateLast(c Candle) {
	if n := len(b.candles); n > 0 && b.candles[n-1].OpenTime == c.OpenTime {
		b.candles[n-1] = c
		return
	}
	b.append(c)
}

// snapshot returns a defensive copy of the buffer contents
func (b *candleBuffer) snapshot() []Candle {
	out := make([]Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

type bufferKey struct {
	symbol    string
	timeframe string
}

// MemoryStore is the thread-safe candle and last-price store. All access is
// serialized behind one mutex; readers get copies, never live buffer memory,
// so strategy math runs without holding the lock.
type MemoryStore struct {
	mu         sync.Mutex
	buffers    map[bufferKey]*candleBuffer
	lastPrices map[string]float64
	capacity   int
}

// NewMemoryStore creates a store whose buffers hold up to capacity candles each
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 200
	}
	return &MemoryStore{
		buffers:    make(map[bufferKey]*candleBuffer),
		lastPrices: make(map[string]float64),
		capacity:   capacity,
	}
}

// UpdateCandle writes a streamed or preloaded candle. A closed candle is
// appended as a new bar; an open one overwrites the tail when the open time
// matches. Never rejects input.
func (s *MemoryStore) UpdateCandle(symbol, timeframe string, c Candle, isClosed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bufferKey{symbol: symbol, timeframe: timeframe}
	buf := s.buffers[key]
	if buf == nil {
		buf = newCandleBuffer(s.capacity)
		s.buffers[key] = buf
	}

	if isClosed {
		buf.append(c)
	} else {
		buf.updateLast(c)
	}
}

// GetCandles returns a snapshot of the buffer for symbol+timeframe.
// An unknown key yields an empty slice.
func (s *MemoryStore) GetCandles(symbol, timeframe string) []Candle {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffers[bufferKey{symbol: symbol, timeframe: timeframe}]
	if buf == nil {
		return nil
	}
	return buf.snapshot()
}

// CandleCount returns the number of buffered candles for symbol+timeframe
func (s *MemoryStore) CandleCount(symbol, timeframe string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buf := s.buffers[bufferKey{symbol: symbol, timeframe: timeframe}]; buf != nil {
		return len(buf.candles)
	}
	return 0
}

// UpdatePrice records the latest mark (or fallback close) price for a symbol
func (s *MemoryStore) UpdatePrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrices[symbol] = price
}

// GetPrice returns the last known price for a symbol
func (s *MemoryStore) GetPrice(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.lastPrices[symbol]
	return price, ok
}

// GetAllPrices returns a copy of the whole price map
func (s *MemoryStore) GetAllPrices() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(s.lastPrices))
	for sym, p := range s.lastPrices {
		out[sym] = p
	}
	return out
}

// AvailableSymbols returns the sorted set of symbols that have at least one
// candle in any timeframe
func (s *MemoryStore) AvailableSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for key, buf := range s.buffers {
		if len(buf.candles) > 0 {
			seen[key.symbol] = true
		}
	}

	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
