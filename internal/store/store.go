// Package store defines storage interfaces for historical bars and for the
// results of backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/analysis"
	"tradelab/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// sorted by timestamp.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// CurveStore exports the detailed outputs of one run.
type CurveStore interface {
	// WriteCurves persists the equity, balance and drawdown curves of a run.
	WriteCurves(ctx context.Context, runID string, c Curves) error

	// ReadCurves returns the curves written for runID.
	ReadCurves(ctx context.Context, runID string) (Curves, error)

	// WriteTrades persists the trade ledger of a run.
	WriteTrades(ctx context.Context, runID string, trades []domain.Trade) error

	// ReadTrades returns the trade ledger written for runID.
	ReadTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}

// RunStore persists run summaries and their ledgers.
type RunStore interface {
	// SaveRun inserts a run and its trades.
	SaveRun(ctx context.Context, run *RunRecord, trades []domain.Trade) error

	// GetRun retrieves a run by ID. It returns ErrNotFound for unknown IDs.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// ListTrades returns the ledger of a run in trade order.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}

// Curves holds the per-bar series of a run. All slices have the same length.
type Curves struct {
	Timestamps []time.Time
	Equity     []float64
	Balance    []float64
	Drawdown   []float64
}

// RunRecord is the persisted summary of a backtest run.
type RunRecord struct {
	ID             string           `json:"id"`
	Strategy       string           `json:"strategy"`
	Symbol         string           `json:"symbol"`
	Market         string           `json:"market"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	CreatedAt      time.Time        `json:"created_at"`
	InitialCapital float64          `json:"initial_capital"`
	FinalCapital   float64          `json:"final_capital"`
	TotalTrades    int              `json:"total_trades"`
	Metrics        analysis.Metrics `json:"metrics"`
	Advanced       analysis.Metrics `json:"advanced,omitempty"`
}

// NewRunRecord returns a record with a fresh UUID and CreatedAt set to now.
func NewRunRecord(strategy, symbol, market string) *RunRecord {
	return &RunRecord{
		ID:        uuid.NewString(),
		Strategy:  strategy,
		Symbol:    symbol,
		Market:    market,
		CreatedAt: time.Now().UTC(),
	}
}
