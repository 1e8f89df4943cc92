// Package history fills the in-memory candle store from the REST API before
// live streaming takes over.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/logging"
	"signalbot/internal/store"
)

// launchPacing spaces out request starts to stay friendly to API weight limits
const launchPacing = 50 * time.Millisecond

// KlineFetcher is the REST surface the loader needs
type KlineFetcher interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]store.Candle, error)
}

// Loader preloads recent klines for every symbol and timeframe pair
type Loader struct {
	client        KlineFetcher
	store         *store.MemoryStore
	limit         int
	maxConcurrent int
	log           zerolog.Logger
}

// NewLoader creates a preloader fetching up to limit candles per pair with at
// most maxConcurrent requests in flight
func NewLoader(client KlineFetcher, st *store.MemoryStore, limit, maxConcurrent int) *Loader {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Loader{
		client:        client,
		store:         st,
		limit:         limit,
		maxConcurrent: maxConcurrent,
		log:           logging.Component("history"),
	}
}

// Preload fetches history for every symbol+timeframe pair and writes the
// candles into the store as closed bars. A failed pair is logged and skipped;
// the rest of the preload continues. Returns the number of pairs loaded.
func (l *Loader) Preload(ctx context.Context, symbols, timeframes []string) int {
	start := time.Now()

	sem := make(chan struct{}, l.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	loaded := 0

	for _, symbol := range symbols {
		for _, tf := range timeframes {
			select {
			case <-ctx.Done():
				wg.Wait()
				l.log.Warn().Msg("preload cancelled")
				return loaded
			case sem <- struct{}{}:
			}

			wg.Add(1)
			go func(symbol, tf string) {
				defer wg.Done()
				defer func() { <-sem }()

				if l.loadPair(ctx, symbol, tf) {
					mu.Lock()
					loaded++
					mu.Unlock()
				}
			}(symbol, tf)

			time.Sleep(launchPacing)
		}
	}
	wg.Wait()

	l.log.Info().
		Int("pairs", loaded).
		Int("symbols", len(symbols)).
		Dur("elapsed", time.Since(start)).
		Msg("history preload finished")
	return loaded
}

// loadPair fetches one symbol+timeframe and stores the result
func (l *Loader) loadPair(ctx context.Context, symbol, tf string) bool {
	candles, err := l.client.GetKlines(ctx, symbol, tf, l.limit)
	if err != nil {
		l.log.Warn().Err(err).Str("symbol", symbol).Str("timeframe", tf).
			Msg("preload failed for pair, skipping")
		return false
	}

	// The final row may still be forming; writing it closed is harmless
	// because the live stream overwrites the tail bar in place.
	for _, c := range candles {
		l.store.UpdateCandle(symbol, tf, c, true)
	}
	return true
}
