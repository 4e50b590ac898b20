package tradelab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithRetries(3, time.Millisecond))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientListStrategies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/strategies" {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, StrategyList{Strategies: []string{"ma_cross", "ny_range"}})
	})

	got, err := c.ListStrategies(context.Background())
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(got) != 2 || got[0] != "ma_cross" || got[1] != "ny_range" {
		t.Errorf("ListStrategies = %v", got)
	}
}

func TestClientRunBacktest(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/backtests" {
			t.Errorf("request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var req BacktestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		if req.Strategy != "ny_range" || req.Symbol != "XAUUSD" || !req.Start.Equal(start) || req.Params["max_trades_per_day"] != 2.0 {
			t.Errorf("request = %+v", req)
		}
		writeJSON(w, http.StatusCreated, RunResult{
			Run: Run{
				ID:          "run-1",
				Strategy:    req.Strategy,
				TotalTrades: 1,
				Metrics:     Metrics{"total_trades": 1},
			},
			Trades:    []Trade{{Direction: "LONG", PnL: 12.5, ExitReason: "take_profit"}},
			Persisted: true,
		})
	})

	res, err := c.RunBacktest(context.Background(), BacktestRequest{
		Strategy: "ny_range",
		Symbol:   "XAUUSD",
		Start:    start,
		End:      start.AddDate(0, 1, 0),
		Params:   map[string]any{"max_trades_per_day": 2},
	})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if res.Run.ID != "run-1" || !res.Persisted || len(res.Trades) != 1 || res.Trades[0].PnL != 12.5 {
		t.Errorf("RunBacktest = %+v", res)
	}
	if res.Run.Metrics["total_trades"] != 1 {
		t.Errorf("metrics = %v", res.Run.Metrics)
	}
}

func TestClientGetRunAndListRuns(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/backtests/a b":
			writeJSON(w, http.StatusOK, RunResult{Run: Run{ID: "a b"}, Persisted: true})
		case "/api/v1/backtests":
			if got := r.URL.Query().Get("limit"); got != "5" {
				t.Errorf("limit = %q, want 5", got)
			}
			writeJSON(w, http.StatusOK, RunList{Runs: []Run{{ID: "r2"}, {ID: "r1"}}})
		default:
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no route"})
		}
	})

	run, err := c.GetRun(context.Background(), "a b")
	if err != nil || run.Run.ID != "a b" {
		t.Fatalf("GetRun = %+v, %v", run, err)
	}
	runs, err := c.ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r2" {
		t.Errorf("ListRuns = %+v", runs)
	}
}

func TestClientAPIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "run x: not found"})
	})

	_, err := c.GetRun(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetRun error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "run x: not found" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestClientPostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.RunBacktest(context.Background(), BacktestRequest{Symbol: "X"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message != "boom" {
		t.Fatalf("RunBacktest error = %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}
