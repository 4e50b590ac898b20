package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradelab/internal/analysis"
	"tradelab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	strategy        TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	market          TEXT NOT NULL,
	start_ms        INTEGER NOT NULL,
	end_ms          INTEGER NOT NULL,
	created_ms      INTEGER NOT NULL,
	initial_capital REAL NOT NULL,
	final_capital   REAL NOT NULL,
	total_trades    INTEGER NOT NULL,
	metrics         TEXT NOT NULL,
	advanced        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created ON runs (created_ms DESC);
CREATE TABLE IF NOT EXISTS trades (
	run_id        TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq           INTEGER NOT NULL,
	entry_ms      INTEGER NOT NULL,
	exit_ms       INTEGER NOT NULL,
	entry_price   REAL NOT NULL,
	exit_price    REAL NOT NULL,
	direction     TEXT NOT NULL,
	size          REAL NOT NULL,
	pnl           REAL NOT NULL,
	pnl_pct       REAL NOT NULL,
	commission    REAL NOT NULL,
	slippage      REAL NOT NULL,
	stop_loss     REAL NOT NULL,
	take_profit   REAL NOT NULL,
	exit_reason   TEXT NOT NULL,
	mae           REAL NOT NULL,
	mfe           REAL NOT NULL,
	duration_bars INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema when missing and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord, trades []domain.Trade) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	advanced, err := json.Marshal(run.Advanced)
	if err != nil {
		return fmt.Errorf("encoding advanced metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, symbol, market, start_ms, end_ms, created_ms,
			initial_capital, final_capital, total_trades, metrics, advanced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.Symbol, run.Market,
		run.Start.UnixMilli(), run.End.UnixMilli(), run.CreatedAt.UnixMilli(),
		run.InitialCapital, run.FinalCapital, run.TotalTrades,
		string(metrics), string(advanced),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (run_id, seq, entry_ms, exit_ms, entry_price, exit_price,
			direction, size, pnl, pnl_pct, commission, slippage, stop_loss, take_profit,
			exit_reason, mae, mfe, duration_bars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range trades {
		_, err := stmt.ExecContext(ctx,
			run.ID, i, t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(),
			t.EntryPrice, t.ExitPrice, string(t.Direction), t.Size,
			t.PnL, t.PnLPct, t.Commission, t.Slippage, t.StopLoss, t.TakeProfit,
			string(t.ExitReason), t.MAE, t.MFE, t.DurationBars,
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, strategy, symbol, market, start_ms, end_ms, created_ms,
	initial_capital, final_capital, total_trades, metrics, advanced`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		r                        RunRecord
		startMs, endMs, createMs int64
		metrics, advanced        string
	)
	err := row.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Market, &startMs, &endMs, &createMs,
		&r.InitialCapital, &r.FinalCapital, &r.TotalTrades, &metrics, &advanced)
	if err != nil {
		return nil, err
	}
	r.Start = time.UnixMilli(startMs).UTC()
	r.End = time.UnixMilli(endMs).UTC()
	r.CreatedAt = time.UnixMilli(createMs).UTC()
	if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics of run %s: %w", r.ID, err)
	}
	var adv analysis.Metrics
	if err := json.Unmarshal([]byte(advanced), &adv); err != nil {
		return nil, fmt.Errorf("decoding advanced metrics of run %s: %w", r.ID, err)
	}
	if len(adv) > 0 {
		r.Advanced = adv
	}
	return &r, nil
}

// GetRun retrieves a run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ListTrades returns the ledger of a run in the order it was saved.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_ms, exit_ms, entry_price, exit_price, direction, size, pnl, pnl_pct,
			commission, slippage, stop_loss, take_profit, exit_reason, mae, mfe, duration_bars
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t                 domain.Trade
			entryMs, exitMs   int64
			direction, reason string
		)
		err := rows.Scan(&entryMs, &exitMs, &t.EntryPrice, &t.ExitPrice, &direction, &t.Size,
			&t.PnL, &t.PnLPct, &t.Commission, &t.Slippage, &t.StopLoss, &t.TakeProfit,
			&reason, &t.MAE, &t.MFE, &t.DurationBars)
		if err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		t.Direction = domain.Direction(direction)
		t.ExitReason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
