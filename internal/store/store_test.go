package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/analysis"
	"tradelab/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("xauusd", "fx", 2024)
	wantBarPath := filepath.Join("/data", "fx", "bars", "XAUUSD", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	rp := ps.resultPath("run-1", "curves")
	wantResultPath := filepath.Join("/data", "results", "run-1", "curves.parquet")
	if rp != wantResultPath {
		t.Errorf("resultPath mismatch:\n  got  %s\n  want %s", rp, wantResultPath)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "EURUSD",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       1.1040,
			High:       1.1052,
			Low:        1.1031,
			Close:      1.1045,
			Volume:     5000,
			TradeCount: 500,
			VWAP:       1.1042,
		},
		{
			Symbol:     "EURUSD",
			Timestamp:  time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
			Open:       1.1045,
			High:       1.1060,
			Low:        1.1040,
			Close:      1.1058,
			Volume:     4500,
			TradeCount: 450,
			VWAP:       1.1050,
		},
	}

	if err := ps.WriteBars(ctx, "fx", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "EURUSD", "fx", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 1.1045 || got[1].Close != 1.1058 {
		t.Errorf("closes = %v, %v, want 1.1045, 1.1058", got[0].Close, got[1].Close)
	}
	if !got[1].Timestamp.Equal(bars[1].Timestamp) {
		t.Errorf("second timestamp = %v, want %v", got[1].Timestamp, bars[1].Timestamp)
	}

	// Range filtering is inclusive on both ends.
	got, err = ps.ReadBars(ctx, "EURUSD", "fx", bars[1].Timestamp, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ReadBars from second bar returned %d bars, want 1", len(got))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	first := []domain.Bar{
		{Symbol: "XAUUSD", Timestamp: ts, Open: 2040, High: 2050, Low: 2035, Close: 2045},
	}
	if err := ps.WriteBars(ctx, "fx", first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// A new bar plus a correction of the existing one.
	second := []domain.Bar{
		{Symbol: "XAUUSD", Timestamp: ts, Open: 2040, High: 2051, Low: 2035, Close: 2046},
		{Symbol: "XAUUSD", Timestamp: ts.Add(time.Hour), Open: 2046, High: 2060, Low: 2044, Close: 2058},
	}
	if err := ps.WriteBars(ctx, "fx", second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "XAUUSD", "fx", ts, ts.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 2046 {
		t.Errorf("merged bar Close = %v, want 2046 (incoming wins)", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Symbol: "XAUUSD", Timestamp: ts, Open: 2060, High: 2064, Low: 2058, Close: 2062},
		{Symbol: "EURUSD", Timestamp: ts, Open: 1.10, High: 1.11, Low: 1.09, Close: 1.105},
	}
	if err := ps.WriteBars(ctx, "fx", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "fx")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "EURUSD" || symbols[1] != "XAUUSD" {
		t.Errorf("ListSymbols = %v, want [EURUSD XAUUSD]", symbols)
	}

	none, err := ps.ListSymbols(ctx, "crypto")
	if err != nil || len(none) != 0 {
		t.Errorf("ListSymbols(missing market) = %v, %v; want empty, nil", none, err)
	}
}

func sampleTrades() []domain.Trade {
	t0 := time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)
	return []domain.Trade{
		{
			EntryTime: t0, ExitTime: t0.Add(3 * time.Hour),
			EntryPrice: 2040, ExitPrice: 2045, Direction: domain.DirectionLong, Size: 0.5,
			PnL: 2.5, PnLPct: 0.00245, Commission: 0, Slippage: 0.1,
			StopLoss: 2036.6, TakeProfit: 2048.3, ExitReason: domain.ExitPartialTakeProfit,
			MAE: -0.001, MFE: 0.003, DurationBars: 3,
		},
		{
			EntryTime: t0, ExitTime: t0.Add(5 * time.Hour),
			EntryPrice: 2040, ExitPrice: 2040.5, Direction: domain.DirectionLong, Size: 0.5,
			PnL: 0.25, PnLPct: 0.000245, ExitReason: domain.ExitBreakeven, DurationBars: 5,
		},
	}
}

func TestParquetStoreCurvesAndTrades(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	runID := uuid.NewString()

	if _, err := ps.ReadCurves(ctx, runID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadCurves before write error = %v, want ErrNotFound", err)
	}

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	curves := Curves{
		Timestamps: []time.Time{ts, ts, ts.Add(time.Hour)},
		Equity:     []float64{10000, 10010, 9990},
		Balance:    []float64{10000, 10000, 9990},
		Drawdown:   []float64{0, 0, -20.0 / 10010},
	}
	if err := ps.WriteCurves(ctx, runID, curves); err != nil {
		t.Fatalf("WriteCurves: %v", err)
	}
	got, err := ps.ReadCurves(ctx, runID)
	if err != nil {
		t.Fatalf("ReadCurves: %v", err)
	}
	if len(got.Equity) != 3 || got.Equity[1] != 10010 || math.Abs(got.Drawdown[2]-curves.Drawdown[2]) > 1e-15 {
		t.Errorf("ReadCurves = %+v, want %+v", got, curves)
	}

	bad := curves
	bad.Balance = bad.Balance[:2]
	if err := ps.WriteCurves(ctx, runID, bad); err == nil {
		t.Error("WriteCurves with mismatched lengths returned nil error")
	}

	trades := sampleTrades()
	if err := ps.WriteTrades(ctx, runID, trades); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	gotTrades, err := ps.ReadTrades(ctx, runID)
	if err != nil {
		t.Fatalf("ReadTrades: %v", err)
	}
	if len(gotTrades) != 2 {
		t.Fatalf("ReadTrades returned %d trades, want 2", len(gotTrades))
	}
	if gotTrades[0].ExitReason != domain.ExitPartialTakeProfit || gotTrades[1].DurationBars != 5 {
		t.Errorf("ReadTrades = %+v", gotTrades)
	}
	if !gotTrades[0].EntryTime.Equal(trades[0].EntryTime) {
		t.Errorf("EntryTime = %v, want %v", gotTrades[0].EntryTime, trades[0].EntryTime)
	}
}

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestDB(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	run := NewRunRecord("ny_range", "XAUUSD", "fx")
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Fatalf("NewRunRecord ID %q is not a UUID: %v", run.ID, err)
	}
	run.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run.End = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	run.InitialCapital = 10000
	run.FinalCapital = 10002.75
	run.TotalTrades = 2
	run.Metrics = analysis.Metrics{analysis.TotalTrades: 2, analysis.ProfitFactor: math.Inf(1)}
	run.Advanced = analysis.Metrics{analysis.SortinoRatio: 1.5}

	if err := s.SaveRun(ctx, run, sampleTrades()); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "ny_range" || got.Symbol != "XAUUSD" || got.FinalCapital != 10002.75 {
		t.Errorf("GetRun = %+v", got)
	}
	if !math.IsInf(got.Metrics[analysis.ProfitFactor], 1) {
		t.Errorf("profit_factor = %v, want +Inf after round trip", got.Metrics[analysis.ProfitFactor])
	}
	if got.Advanced[analysis.SortinoRatio] != 1.5 {
		t.Errorf("sortino = %v, want 1.5", got.Advanced[analysis.SortinoRatio])
	}
	if !got.Start.Equal(run.Start) {
		t.Errorf("Start = %v, want %v", got.Start, run.Start)
	}

	trades, err := s.ListTrades(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 2 || trades[0].ExitReason != domain.ExitPartialTakeProfit || trades[1].ExitReason != domain.ExitBreakeven {
		t.Errorf("ListTrades = %+v", trades)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"ma_cross", "two_bearish", "ny_range"} {
		run := NewRunRecord(name, "EURUSD", "fx")
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		run.Metrics = analysis.Metrics{analysis.TotalTrades: 0}
		if err := s.SaveRun(ctx, run, nil); err != nil {
			t.Fatalf("SaveRun(%s): %v", name, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns(2) returned %d runs, want 2", len(runs))
	}
	if runs[0].Strategy != "ny_range" || runs[1].Strategy != "two_bearish" {
		t.Errorf("ListRuns order = %s, %s; want newest first", runs[0].Strategy, runs[1].Strategy)
	}

	all, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns(0): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) returned %d runs, want 3", len(all))
	}
	if !strings.HasPrefix(all[2].Strategy, "ma_") {
		t.Errorf("oldest run = %s, want ma_cross", all[2].Strategy)
	}
}
