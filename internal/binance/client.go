package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"signalbot/internal/logging"
	"signalbot/internal/store"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
)

// Client talks to the public Binance USDT-M futures REST API. No credentials
// are needed; the engine only reads market data.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a REST client. An empty baseURL selects production.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logging.Component("binance.rest"),
	}
}

// publicGet performs a GET with retries on transient failures
func (c *Client) publicGet(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			c.log.Warn().
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if isRetryableError(err) {
				continue
			}
			return fmt.Errorf("request %s: %w", path, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return nil
		}

		lastErr = fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			continue
		}
		return lastErr
	}
	return fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// retryDelay grows exponentially with jitter
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter
}

// isRetryableError treats transport-level failures as transient
func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// GetExchangeSymbols returns all tradable USDT-margined perpetual symbols
func (c *Client) GetExchangeSymbols(ctx context.Context) ([]string, error) {
	var info ExchangeInfo
	if err := c.publicGet(ctx, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType == "PERPETUAL" && s.Status == "TRADING" && s.QuoteAsset == "USDT" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// GetTopSymbolsByVolume returns up to limit tradable perpetual symbols ranked
// by 24h quote volume, highest first
func (c *Client) GetTopSymbolsByVolume(ctx context.Context, limit int) ([]string, error) {
	valid, err := c.GetExchangeSymbols(ctx)
	if err != nil {
		return nil, err
	}
	validSet := make(map[string]bool, len(valid))
	for _, s := range valid {
		validSet[s] = true
	}

	var tickers []Ticker24h
	if err := c.publicGet(ctx, "/fapi/v1/ticker/24hr", nil, &tickers); err != nil {
		return nil, fmt.Errorf("fetch 24h tickers: %w", err)
	}

	type ranked struct {
		symbol string
		volume float64
	}
	rankedSymbols := make([]ranked, 0, len(tickers))
	for _, t := range tickers {
		if !validSet[t.Symbol] {
			continue
		}
		vol, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil {
			continue
		}
		rankedSymbols = append(rankedSymbols, ranked{t.Symbol, vol})
	}

	sort.Slice(rankedSymbols, func(i, j int) bool {
		return rankedSymbols[i].volume > rankedSymbols[j].volume
	})

	if limit > 0 && len(rankedSymbols) > limit {
		rankedSymbols = rankedSymbols[:limit]
	}
	out := make([]string, len(rankedSymbols))
	for i, r := range rankedSymbols {
		out[i] = r.symbol
	}
	return out, nil
}

// GetKlines fetches up to limit most recent klines for symbol/interval.
// The API returns rows of mixed-type arrays; only the first six columns
// (open time, o, h, l, c, v) are kept.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]store.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var rows [][]interface{}
	if err := c.publicGet(ctx, "/fapi/v1/klines", params, &rows); err != nil {
		return nil, fmt.Errorf("fetch klines %s %s: %w", symbol, interval, err)
	}

	candles := make([]store.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		candle, err := parseCandle(int64(openTime), row[1:6])
		if err != nil {
			return nil, fmt.Errorf("parse kline row for %s: %w", symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseCandle converts the o,h,l,c,v string columns of one kline row
func parseCandle(openTime int64, cols []interface{}) (store.Candle, error) {
	vals := make([]float64, 5)
	for i, col := range cols {
		s, ok := col.(string)
		if !ok {
			return store.Candle{}, fmt.Errorf("column %d is not a string", i+1)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return store.Candle{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = f
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
