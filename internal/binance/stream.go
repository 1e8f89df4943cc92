package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signalbot/internal/store"
)

const (
	defaultWSBaseURL = "wss://fstream.binance.com"

	// Binance caps combined streams per connection; symbol sets beyond the
	// cap are sharded across additional sockets instead of truncated.
	maxStreamsPerConn = 200

	markPriceStream = "!markPrice@arr@1s"
)

// StreamClient maintains WebSocket market-data connections: kline streams for
// every tracked symbol and timeframe, sharded across sockets, plus one
// mark-price connection. Every payload lands in the MemoryStore.
type StreamClient struct {
	wsBaseURL      string
	store          *store.MemoryStore
	timeframes     []string
	reconnectDelay time.Duration
	log            zerolog.Logger

	mu      sync.Mutex
	symbols []string
	running bool

	stopChan    chan struct{}
	refreshChan chan struct{}
	wg          sync.WaitGroup
}

// NewStreamClient creates a stream client. An empty wsBaseURL selects
// production.
func NewStreamClient(wsBaseURL string, st *store.MemoryStore, timeframes []string, reconnectDelay time.Duration, log zerolog.Logger) *StreamClient {
	if wsBaseURL == "" {
		wsBaseURL = defaultWSBaseURL
	}
	return &StreamClient{
		wsBaseURL:      wsBaseURL,
		store:          st,
		timeframes:     timeframes,
		reconnectDelay: reconnectDelay,
		log:            log,
	}
}

// Start launches the connection supervisor. Safe to call once.
func (s *StreamClient) Start(symbols []string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.symbols = append([]string(nil), symbols...)
	s.stopChan = make(chan struct{})
	s.refreshChan = make(chan struct{}, 1)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.supervise()
}

// Stop tears down all connections and waits for readers to exit
func (s *StreamClient) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("stream client stopped")
}

// UpdateSymbols swaps the tracked symbol set and forces a reconnect so the
// next session subscribes the full new set on every timeframe
func (s *StreamClient) UpdateSymbols(symbols []string) {
	s.mu.Lock()
	s.symbols = append([]string(nil), symbols...)
	running := s.running
	s.mu.Unlock()

	if !running {
		return
	}
	select {
	case s.refreshChan <- struct{}{}:
	default: // refresh already pending
	}
}

// Symbols returns a copy of the currently tracked symbol set
func (s *StreamClient) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// supervise runs connection sessions. Each session opens one socket per
// stream shard plus the mark-price socket; a symbol-set change tears the
// session down and starts a fresh one.
func (s *StreamClient) supervise() {
	defer s.wg.Done()

	for {
		urls := s.sessionURLs()

		sessStop := make(chan struct{})
		var sessWG sync.WaitGroup
		for _, u := range urls {
			sessWG.Add(1)
			go s.runConn(u, sessStop, &sessWG)
		}
		s.log.Info().Int("connections", len(urls)).Msg("stream session started")

		select {
		case <-s.stopChan:
			close(sessStop)
			sessWG.Wait()
			return
		case <-s.refreshChan:
			s.log.Info().Msg("symbol set changed, restarting stream session")
			close(sessStop)
			sessWG.Wait()
		}
	}
}

// sessionURLs builds the combined-stream URLs for the current symbol set
func (s *StreamClient) sessionURLs() []string {
	s.mu.Lock()
	symbols := append([]string(nil), s.symbols...)
	s.mu.Unlock()

	names := buildStreamNames(symbols, s.timeframes)
	shards := shardStreams(names, maxStreamsPerConn)

	urls := make([]string, 0, len(shards)+1)
	for _, shard := range shards {
		urls = append(urls, s.combinedURL(shard))
	}
	urls = append(urls, s.combinedURL([]string{markPriceStream}))
	return urls
}

func (s *StreamClient) combinedURL(streams []string) string {
	return fmt.Sprintf("%s/stream?streams=%s", s.wsBaseURL, strings.Join(streams, "/"))
}

// buildStreamNames produces kline stream names for every symbol+timeframe
func buildStreamNames(symbols, timeframes []string) []string {
	names := make([]string, 0, len(symbols)*len(timeframes))
	for _, sym := range symbols {
		for _, tf := range timeframes {
			names = append(names, fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), tf))
		}
	}
	return names
}

// shardStreams splits stream names into chunks of at most size
func shardStreams(names []string, size int) [][]string {
	if len(names) == 0 {
		return nil
	}
	var shards [][]string
	for len(names) > size {
		shards = append(shards, names[:size])
		names = names[size:]
	}
	return append(shards, names)
}

// runConn dials one socket and pumps messages until the session ends,
// reconnecting after transient failures
func (s *StreamClient) runConn(url string, sessStop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-sessStop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			s.log.Error().Err(err).Str("url", url).Msg("websocket dial failed")
			if !s.sleepOrStop(sessStop) {
				return
			}
			continue
		}

		s.readLoop(conn, sessStop)
		conn.Close()

		select {
		case <-sessStop:
			return
		default:
			s.log.Warn().Str("url", url).Msg("websocket connection lost, reconnecting")
			if !s.sleepOrStop(sessStop) {
				return
			}
		}
	}
}

// sleepOrStop waits the reconnect delay; returns false if the session ended
func (s *StreamClient) sleepOrStop(sessStop chan struct{}) bool {
	select {
	case <-time.After(s.reconnectDelay):
		return true
	case <-sessStop:
		return false
	}
}

// readLoop consumes messages until the connection breaks or the session ends
func (s *StreamClient) readLoop(conn *websocket.Conn, sessStop chan struct{}) {
	done := make(chan struct{})
	defer close(done)

	// Closing the socket unblocks ReadMessage when the session is torn down
	go func() {
		select {
		case <-sessStop:
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := s.handleMessage(msg); err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed stream message")
		}
	}
}

// handleMessage routes one combined-stream payload into the store
func (s *StreamClient) handleMessage(msg []byte) error {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if strings.HasPrefix(env.Stream, "!markPrice") {
		return s.handleMarkPrices(env.Data)
	}
	return s.handleKline(env.Data)
}

func (s *StreamClient) handleKline(data []byte) error {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode kline event: %w", err)
	}
	k := ev.Kline

	candle, err := candleFromStrings(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return fmt.Errorf("parse kline %s %s: %w", k.Symbol, k.Interval, err)
	}

	s.store.UpdateCandle(k.Symbol, k.Interval, candle, k.IsClosed)
	// The latest 1m close doubles as a price fallback between mark updates
	s.store.UpdatePrice(k.Symbol, candle.Close)
	return nil
}

func (s *StreamClient) handleMarkPrices(data []byte) error {
	var events []markPriceEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("decode mark price array: %w", err)
	}
	for _, ev := range events {
		price, err := strconv.ParseFloat(ev.MarkPrice, 64)
		if err != nil {
			continue
		}
		s.store.UpdatePrice(ev.Symbol, price)
	}
	return nil
}

// candleFromStrings parses the string-encoded OHLCV fields of a ws payload
func candleFromStrings(openTime int64, open, high, low, closePrice, volume string) (store.Candle, error) {
	fields := []string{open, high, low, closePrice, volume}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return store.Candle{}, err
		}
		vals[i] = v
	}
	return store.Candle{
		OpenTime: openTime,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}
