package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGetExchangeSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/exchangeInfo" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"ETHUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"BTCUSDT_240628","status":"TRADING","contractType":"CURRENT_QUARTER","quoteAsset":"USDT"},
			{"symbol":"DOGEUSDT","status":"SETTLING","contractType":"PERPETUAL","quoteAsset":"USDT"},
			{"symbol":"BTCBUSD","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"BUSD"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	symbols, err := c.GetExchangeSymbols(context.Background())
	if err != nil {
		t.Fatalf("GetExchangeSymbols failed: %v", err)
	}

	want := map[string]bool{"BTCUSDT": true, "ETHUSDT": true}
	if len(symbols) != len(want) {
		t.Fatalf("Got %v, want exactly BTCUSDT and ETHUSDT", symbols)
	}
	for _, s := range symbols {
		if !want[s] {
			t.Errorf("Unexpected symbol %s", s)
		}
	}
}

func TestGetTopSymbolsByVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(`{"symbols":[
				{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
				{"symbol":"ETHUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"},
				{"symbol":"SOLUSDT","status":"TRADING","contractType":"PERPETUAL","quoteAsset":"USDT"}
			]}`))
		case "/fapi/v1/ticker/24hr":
			w.Write([]byte(`[
				{"symbol":"SOLUSDT","quoteVolume":"300"},
				{"symbol":"BTCUSDT","quoteVolume":"1000"},
				{"symbol":"ETHUSDT","quoteVolume":"500"},
				{"symbol":"DELISTED","quoteVolume":"9999"}
			]`))
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	symbols, err := c.GetTopSymbolsByVolume(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetTopSymbolsByVolume failed: %v", err)
	}

	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("Got %v, want [BTCUSDT ETHUSDT]", symbols)
	}
}

func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "2" {
			t.Errorf("Unexpected query %v", q)
		}
		// Full 12-column rows as the API sends them
		w.Write([]byte(`[
			[1700000000000,"100.5","102.0","100.0","101.25","345.6",1700000059999,"34900.1",120,"170.0","17100.2","0"],
			[1700000060000,"101.25","103.0","101.0","102.5","400.0",1700000119999,"41000.0",130,"200.0","20500.0","0"]
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("GetKlines failed: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("Got %d candles, want 2", len(candles))
	}
	first := candles[0]
	if first.OpenTime != 1700000000000 || first.Open != 100.5 || first.High != 102.0 ||
		first.Low != 100.0 || first.Close != 101.25 || first.Volume != 345.6 {
		t.Errorf("Unexpected first candle: %+v", first)
	}
	if candles[1].Close != 102.5 {
		t.Errorf("Second close = %f, want 102.5", candles[1].Close)
	}
}

func TestPublicGetRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"symbols":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.GetExchangeSymbols(context.Background()); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("Got %d calls, want 3", n)
	}
}

func TestPublicGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.GetKlines(context.Background(), "NOPE", "1m", 10); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Got %d calls, want 1 (no retry on 4xx)", n)
	}
}
