// Package bot wires every component together and runs the scan loop.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"signalbot/config"
	"signalbot/internal/api"
	"signalbot/internal/binance"
	"signalbot/internal/database"
	"signalbot/internal/dispatch"
	"signalbot/internal/events"
	"signalbot/internal/history"
	"signalbot/internal/logging"
	"signalbot/internal/notification"
	"signalbot/internal/store"
	"signalbot/internal/strategy"
	"signalbot/internal/watcher"
)

// fallbackSymbols keeps the engine alive when the symbol fetch fails at boot
var fallbackSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}

// Bot owns the component lifecycle: market data in, signals out
type Bot struct {
	cfg *config.Config
	log zerolog.Logger

	store      *store.MemoryStore
	db         *database.DB
	repo       *database.Repository
	mirror     *database.PositionMirror
	client     *binance.Client
	stream     *binance.StreamClient
	loader     *history.Loader
	watcher    *watcher.Watcher
	dispatcher *dispatch.Dispatcher
	notifier   *notification.Manager
	bus        *events.Bus
	strat      strategy.Strategy
	apiServer  *api.Server

	mu           sync.Mutex
	symbols      []string
	running      bool
	lastScanID   string
	lastScanAt   time.Time
	signalsFound int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds the bot. Any error here is fatal; the process should exit.
func New(cfg *config.Config) (*Bot, error) {
	b := &Bot{
		cfg: cfg,
		log: logging.Component("bot"),
	}

	db, err := database.Open(cfg.DatabaseConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("database init: %w", err)
	}
	b.db = db
	b.repo = database.NewRepository(db)

	b.store = store.NewMemoryStore(cfg.StreamConfig.CandleBufferSize)
	b.client = binance.NewClient("")
	b.loader = history.NewLoader(b.client, b.store,
		cfg.ScanConfig.PreloadLimit, cfg.ScanConfig.PreloadMaxConcurrent)

	b.strat, err = strategy.New(cfg.ScanConfig.ActiveStrategy, cfg, b.store)
	if err != nil {
		return nil, fmt.Errorf("strategy init: %w", err)
	}

	b.bus = events.NewBus()
	b.notifier = notification.NewManager(notification.NewTelegramNotifier(cfg.TelegramConfig))

	mirrorTTL := time.Duration(cfg.RiskConfig.TimeStopHours+1) * time.Hour
	b.mirror = database.NewPositionMirror(cfg.RedisConfig, mirrorTTL)

	b.watcher = watcher.NewWatcher(b.store, b.repo, b.bus, b.mirror,
		time.Duration(cfg.ScanConfig.TradeControlSeconds)*time.Second,
		time.Duration(cfg.RiskConfig.TimeStopHours)*time.Hour)

	b.dispatcher = dispatch.NewDispatcher(b.repo, b.notifier, b.watcher, b.store, b.bus)

	b.stream = binance.NewStreamClient("", b.store, b.streamTimeframes(),
		time.Duration(cfg.StreamConfig.ReconnectDelay)*time.Second,
		logging.Component("stream"))

	if cfg.ServerConfig.Port > 0 {
		b.apiServer = api.NewServer(b.watcher, b.repo, b)
	}
	return b, nil
}

// streamTimeframes is the union of configured timeframes and whatever the
// active strategy reads
func (b *Bot) streamTimeframes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, tf := range b.cfg.StreamConfig.KlineTimeframes {
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	for _, tf := range b.strat.RequiredTimeframes() {
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	return out
}

// Run starts everything and blocks until ctx is cancelled
func (b *Bot) Run(ctx context.Context) error {
	b.stopChan = make(chan struct{})

	symbols := b.fetchSymbols(ctx)
	b.setSymbols(symbols)
	b.log.Info().Int("symbols", len(symbols)).Str("strategy", b.strat.Name()).Msg("starting")

	// Positions mirrored before a restart come back before any scan runs
	if mirrored, err := b.mirror.LoadAll(ctx); err != nil {
		b.log.Warn().Err(err).Msg("mirror restore failed")
	} else {
		b.watcher.Restore(mirrored)
	}

	b.loader.Preload(ctx, symbols, b.streamTimeframes())

	b.watcher.Start()
	b.dispatcher.Start()
	b.stream.Start(symbols)
	if b.apiServer != nil {
		b.apiServer.Start(b.cfg.ServerConfig.Port)
	}

	b.mu.Lock()
	b.running = true
	b.mu.Unlock()

	b.notifier.Send(ctx, fmt.Sprintf(
		"🤖 signalbot started\nStrategy: <b>%s</b>\nSymbols: %d", b.strat.Name(), len(symbols)))

	b.wg.Add(2)
	go b.scanLoop()
	go b.refreshLoop()

	<-ctx.Done()
	b.shutdown()
	return nil
}

// shutdown stops components in reverse dependency order
func (b *Bot) shutdown() {
	b.log.Info().Msg("shutting down")
	close(b.stopChan)
	b.wg.Wait()

	b.stream.Stop()
	b.watcher.Stop()
	b.bus.Close()
	b.dispatcher.Wait()

	if b.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		b.apiServer.Shutdown(ctx)
		cancel()
	}

	sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	b.notifier.Send(sendCtx, "🛑 signalbot stopped")
	cancel()

	if err := b.db.Close(); err != nil {
		b.log.Warn().Err(err).Msg("database close failed")
	}

	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.log.Info().Msg("shutdown complete")
}

// fetchSymbols asks the exchange for the top symbols by volume, falling back
// to a small fixed set so the engine still comes up
func (b *Bot) fetchSymbols(ctx context.Context) []string {
	symbols, err := b.client.GetTopSymbolsByVolume(ctx, b.cfg.MarketConfig.TopVolumeLimit)
	if err != nil || len(symbols) == 0 {
		b.log.Warn().Err(err).Msg("symbol fetch failed, using fallback set")
		return append([]string(nil), fallbackSymbols...)
	}
	return symbols
}

func (b *Bot) setSymbols(symbols []string) {
	b.mu.Lock()
	b.symbols = symbols
	b.mu.Unlock()
}

func (b *Bot) currentSymbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.symbols...)
}

// scanLoop waits out the warmup, then evaluates all symbols on a fixed cadence
func (b *Bot) scanLoop() {
	defer b.wg.Done()

	warmup := time.Duration(b.cfg.ScanConfig.WarmupSeconds) * time.Second
	b.log.Info().Dur("warmup", warmup).Msg("waiting for stream warmup")
	select {
	case <-time.After(warmup):
	case <-b.stopChan:
		return
	}

	ticker := time.NewTicker(time.Duration(b.cfg.ScanConfig.ScanIntervalSeconds) * time.Second)
	defer ticker.Stop()

	b.scanOnce()
	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.scanOnce()
		}
	}
}

// scanOnce evaluates every untracked symbol through a bounded worker pool,
// then dispatches the strongest candidates
func (b *Bot) scanOnce() {
	scanID := uuid.New().String()[:8]
	start := time.Now()
	symbols := b.currentSymbols()

	symbolChan := make(chan string, len(symbols))
	for _, sym := range symbols {
		if b.watcher.IsTracked(sym) {
			continue
		}
		symbolChan <- sym
	}
	close(symbolChan)

	workers := b.cfg.ScanConfig.MaxParallelTasks
	if workers > len(symbols) {
		workers = len(symbols)
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var candidates []*strategy.Signal

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symbolChan {
				sig := b.evaluateSymbol(scanID, sym)
				if sig == nil {
					continue
				}
				mu.Lock()
				candidates = append(candidates, sig)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Strongest spikes first, capped per scan
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SpikeRatio > candidates[j].SpikeRatio
	})
	if max := b.cfg.ScanConfig.MaxTrackedSignals; len(candidates) > max {
		candidates = candidates[:max]
	}

	dispatched := 0
	for _, sig := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := b.dispatcher.Dispatch(ctx, sig)
		cancel()
		if err != nil {
			b.log.Error().Err(err).Str("scan_id", scanID).Str("symbol", sig.Symbol).
				Msg("dispatch failed")
			continue
		}
		dispatched++
	}

	b.mu.Lock()
	b.lastScanID = scanID
	b.lastScanAt = time.Now().UTC()
	b.signalsFound += dispatched
	b.mu.Unlock()

	b.log.Info().
		Str("scan_id", scanID).
		Int("symbols", len(symbols)).
		Int("candidates", len(candidates)).
		Int("dispatched", dispatched).
		Dur("elapsed", time.Since(start)).
		Msg("scan finished")
}

// evaluateSymbol isolates strategy panics so one bad symbol cannot kill the
// scan
func (b *Bot) evaluateSymbol(scanID, symbol string) (sig *strategy.Signal) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("scan_id", scanID).
				Str("symbol", symbol).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("strategy panicked")
			sig = nil
		}
	}()

	sig, err := b.strat.Evaluate(symbol)
	if err != nil {
		b.log.Warn().Err(err).Str("scan_id", scanID).Str("symbol", symbol).
			Msg("evaluation failed")
		return nil
	}
	return sig
}

// refreshLoop re-ranks the tracked symbol universe periodically
func (b *Bot) refreshLoop() {
	defer b.wg.Done()

	interval := time.Duration(b.cfg.MarketConfig.MarketRefreshHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.refreshSymbols()
		}
	}
}

// refreshSymbols swaps in the latest top-volume set and preloads history for
// symbols we have not seen before
func (b *Bot) refreshSymbols() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	symbols, err := b.client.GetTopSymbolsByVolume(ctx, b.cfg.MarketConfig.TopVolumeLimit)
	if err != nil || len(symbols) == 0 {
		b.log.Warn().Err(err).Msg("symbol refresh failed, keeping current set")
		return
	}

	known := make(map[string]bool)
	for _, s := range b.currentSymbols() {
		known[s] = true
	}
	var added []string
	for _, s := range symbols {
		if !known[s] {
			added = append(added, s)
		}
	}

	b.setSymbols(symbols)
	b.stream.UpdateSymbols(symbols)

	if len(added) > 0 {
		b.loader.Preload(ctx, added, b.streamTimeframes())
	}
	b.log.Info().Int("symbols", len(symbols)).Int("added", len(added)).
		Msg("symbol universe refreshed")
}

// ScannerStatus implements the API status source
func (b *Bot) ScannerStatus() api.ScannerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return api.ScannerStatus{
		Running:        b.running,
		ActiveStrategy: b.strat.Name(),
		Symbols:        len(b.symbols),
		LastScanID:     b.lastScanID,
		LastScanAt:     b.lastScanAt,
		SignalsFound:   b.signalsFound,
	}
}
