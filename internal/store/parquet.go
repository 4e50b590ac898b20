package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradelab/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ CurveStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and CurveStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// CurveRecord is one point of the equity, balance and drawdown curves.
type CurveRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Equity    float64 `parquet:"equity"`
	Balance   float64 `parquet:"balance"`
	Drawdown  float64 `parquet:"drawdown"`
}

// TradeRecord is the Parquet schema for a closed trade.
type TradeRecord struct {
	EntryTime    int64   `parquet:"entry_time,timestamp(millisecond)"`
	ExitTime     int64   `parquet:"exit_time,timestamp(millisecond)"`
	EntryPrice   float64 `parquet:"entry_price"`
	ExitPrice    float64 `parquet:"exit_price"`
	Direction    string  `parquet:"direction"`
	Size         float64 `parquet:"size"`
	PnL          float64 `parquet:"pnl"`
	PnLPct       float64 `parquet:"pnl_pct"`
	Commission   float64 `parquet:"commission"`
	Slippage     float64 `parquet:"slippage"`
	StopLoss     float64 `parquet:"stop_loss"`
	TakeProfit   float64 `parquet:"take_profit"`
	ExitReason   string  `parquet:"exit_reason"`
	MAE          float64 `parquet:"mae"`
	MFE          float64 `parquet:"mfe"`
	DurationBars int64   `parquet:"duration_bars"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/<market>/bars/<SYMBOL>/<YYYY>.parquet
//
// Bars already on disk are merged by timestamp, incoming bars winning.
func (s *ParquetStore) WriteBars(_ context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:     k.symbol,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading existing bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range. Missing year files are skipped.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading bars for %s/%d: %w", symbol, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "bars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// CurveStore implementation
// ---------------------------------------------------------------------------

// WriteCurves writes the curves of a run to <DataDir>/results/<runID>/curves.parquet,
// replacing any previous file.
func (s *ParquetStore) WriteCurves(_ context.Context, runID string, c Curves) error {
	n := len(c.Equity)
	if len(c.Timestamps) != n || len(c.Balance) != n || len(c.Drawdown) != n {
		return fmt.Errorf("curves for run %s have mismatched lengths", runID)
	}
	records := make([]CurveRecord, n)
	for i := range records {
		records[i] = CurveRecord{
			Timestamp: c.Timestamps[i].UnixMilli(),
			Equity:    c.Equity[i],
			Balance:   c.Balance[i],
			Drawdown:  c.Drawdown[i],
		}
	}
	if err := writeParquetFile(s.resultPath(runID, "curves"), records); err != nil {
		return fmt.Errorf("writing curves for run %s: %w", runID, err)
	}
	return nil
}

// ReadCurves reads the curves of a run. It returns ErrNotFound when the run
// has no curve file.
func (s *ParquetStore) ReadCurves(_ context.Context, runID string) (Curves, error) {
	records, err := readParquetFile[CurveRecord](s.resultPath(runID, "curves"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Curves{}, fmt.Errorf("curves for run %s: %w", runID, ErrNotFound)
		}
		return Curves{}, fmt.Errorf("reading curves for run %s: %w", runID, err)
	}
	c := Curves{
		Timestamps: make([]time.Time, len(records)),
		Equity:     make([]float64, len(records)),
		Balance:    make([]float64, len(records)),
		Drawdown:   make([]float64, len(records)),
	}
	for i, r := range records {
		c.Timestamps[i] = time.UnixMilli(r.Timestamp).UTC()
		c.Equity[i] = r.Equity
		c.Balance[i] = r.Balance
		c.Drawdown[i] = r.Drawdown
	}
	return c, nil
}

// WriteTrades writes the ledger of a run to <DataDir>/results/<runID>/trades.parquet.
func (s *ParquetStore) WriteTrades(_ context.Context, runID string, trades []domain.Trade) error {
	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = tradeToRecord(t)
	}
	if err := writeParquetFile(s.resultPath(runID, "trades"), records); err != nil {
		return fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	return nil
}

// ReadTrades reads the ledger of a run. It returns ErrNotFound when the run
// has no trade file.
func (s *ParquetStore) ReadTrades(_ context.Context, runID string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](s.resultPath(runID, "trades"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("trades for run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("reading trades for run %s: %w", runID, err)
	}
	trades := make([]domain.Trade, len(records))
	for i, r := range records {
		trades[i] = recordToTrade(r)
	}
	return trades, nil
}

func tradeToRecord(t domain.Trade) TradeRecord {
	return TradeRecord{
		EntryTime:    t.EntryTime.UnixMilli(),
		ExitTime:     t.ExitTime.UnixMilli(),
		EntryPrice:   t.EntryPrice,
		ExitPrice:    t.ExitPrice,
		Direction:    string(t.Direction),
		Size:         t.Size,
		PnL:          t.PnL,
		PnLPct:       t.PnLPct,
		Commission:   t.Commission,
		Slippage:     t.Slippage,
		StopLoss:     t.StopLoss,
		TakeProfit:   t.TakeProfit,
		ExitReason:   string(t.ExitReason),
		MAE:          t.MAE,
		MFE:          t.MFE,
		DurationBars: int64(t.DurationBars),
	}
}

func recordToTrade(r TradeRecord) domain.Trade {
	return domain.Trade{
		EntryTime:    time.UnixMilli(r.EntryTime).UTC(),
		ExitTime:     time.UnixMilli(r.ExitTime).UTC(),
		EntryPrice:   r.EntryPrice,
		ExitPrice:    r.ExitPrice,
		Direction:    domain.Direction(r.Direction),
		Size:         r.Size,
		PnL:          r.PnL,
		PnLPct:       r.PnLPct,
		Commission:   r.Commission,
		Slippage:     r.Slippage,
		StopLoss:     r.StopLoss,
		TakeProfit:   r.TakeProfit,
		ExitReason:   domain.ExitReason(r.ExitReason),
		MAE:          r.MAE,
		MFE:          r.MFE,
		DurationBars: int(r.DurationBars),
	}
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/bars/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "bars", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// resultPath returns the path of a per-run export.
// Layout: <dataDir>/results/<runID>/<name>.parquet
func (s *ParquetStore) resultPath(runID, name string) string {
	return filepath.Join(s.DataDir, "results", runID, name+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones. The result is sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
