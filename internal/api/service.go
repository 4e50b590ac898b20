// Package api exposes backtest runs over HTTP (gin) and gRPC. Both
// transports share one Service and the wire types of pkg/tradelab.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"google.golang.org/grpc/codes"

	"tradelab/internal/domain"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
	"tradelab/pkg/tradelab"
)

var (
	// ErrBadRequest is returned for requests that cannot be run as given.
	ErrBadRequest = errors.New("bad request")

	// ErrNoResultStore is returned by run queries when no result store is
	// configured.
	ErrNoResultStore = errors.New("no result store configured")
)

// DefaultMarket is used for requests that name no market.
const DefaultMarket = "fx"

// Factory builds a strategy from risk settings and parameters.
type Factory func(name string, risk strategy.RiskParams, params strategy.Params, log *slog.Logger) (strategy.Strategy, error)

// ServiceConfig wires a Service to its stores and strategy settings. Every
// store is optional: without Bars requests must carry their bars inline,
// without Runs results are not persisted and run queries fail with
// ErrNoResultStore, and without Curves no Parquet export is written.
type ServiceConfig struct {
	Bars   store.BarStore
	Runs   store.RunStore
	Curves store.CurveStore

	// Registry holds the strategies run with default parameters. A nil
	// Registry is populated with the built-ins.
	Registry *strategy.Registry
	Backtest strategy.Config
	Risk     strategy.RiskParams
	Params   map[string]strategy.Params

	// Instrument returns the metadata of a symbol, or nil when unknown.
	Instrument func(symbol string) *domain.InstrumentInfo
	// Factory builds strategies for requests with overrides. It defaults to
	// builtins.New.
	Factory Factory

	DefaultStrategy string
	DefaultMarket   string
}

// Service runs backtests and serves persisted results.
type Service struct {
	cfg     ServiceConfig
	bt      *strategy.Backtester
	factory Factory
	log     *slog.Logger
}

// NewService creates a Service from cfg.
func NewService(cfg ServiceConfig, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = strategy.NewRegistry()
		if err := builtins.Register(cfg.Registry, cfg.Risk, cfg.Params, log); err != nil {
			return nil, fmt.Errorf("registering strategies: %w", err)
		}
	}
	if cfg.DefaultMarket == "" {
		cfg.DefaultMarket = DefaultMarket
	}
	factory := Factory(builtins.New)
	if cfg.Factory != nil {
		factory = cfg.Factory
	}
	return &Service{
		cfg:     cfg,
		bt:      strategy.NewBacktester(nil, cfg.Registry, cfg.Backtest, log),
		factory: factory,
		log:     log,
	}, nil
}

// Strategies returns the sorted names of the registered strategies.
func (s *Service) Strategies() []string {
	return s.cfg.Registry.List()
}

// RunBacktest simulates the requested strategy and persists the result when
// a result store is configured.
func (s *Service) RunBacktest(ctx context.Context, req tradelab.BacktestRequest) (*tradelab.RunResult, error) {
	if req.Strategy == "" {
		req.Strategy = s.cfg.DefaultStrategy
	}
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required: %w", ErrBadRequest)
	}
	if req.InitialCapital < 0 {
		return nil, fmt.Errorf("initial_capital %v is negative: %w", req.InitialCapital, ErrBadRequest)
	}
	if req.RiskPerTrade < 0 || req.RiskPerTrade > 1 {
		return nil, fmt.Errorf("risk_per_trade %v outside [0, 1]: %w", req.RiskPerTrade, ErrBadRequest)
	}
	market := req.Market
	if market == "" {
		market = s.cfg.DefaultMarket
	}

	strat, err := s.strategy(req)
	if err != nil {
		return nil, err
	}
	bars, err := s.bars(ctx, req, market)
	if err != nil {
		return nil, err
	}

	bt := s.bt
	if req.InitialCapital > 0 {
		cfg := bt.Config()
		cfg.Engine.InitialCapital = req.InitialCapital
		bt = bt.WithConfig(cfg)
	}
	var inst *domain.InstrumentInfo
	if s.cfg.Instrument != nil {
		inst = s.cfg.Instrument(req.Symbol)
	}
	res, err := bt.Simulate(strat, bars, inst)
	if err != nil {
		return nil, err
	}

	rec := res.Record(market)
	out := &tradelab.RunResult{Run: toRun(rec), Trades: toTrades(res.Trades)}
	if s.cfg.Runs != nil {
		if err := s.cfg.Runs.SaveRun(ctx, rec, res.Trades); err != nil {
			return nil, fmt.Errorf("saving run %s: %w", rec.ID, err)
		}
		out.Persisted = true
	}
	if s.cfg.Curves != nil {
		if err := s.cfg.Curves.WriteCurves(ctx, rec.ID, res.Curves()); err != nil {
			return nil, fmt.Errorf("exporting curves of run %s: %w", rec.ID, err)
		}
		if err := s.cfg.Curves.WriteTrades(ctx, rec.ID, res.Trades); err != nil {
			return nil, fmt.Errorf("exporting trades of run %s: %w", rec.ID, err)
		}
	}

	s.log.Info("backtest served",
		"run_id", rec.ID,
		"strategy", rec.Strategy,
		"symbol", rec.Symbol,
		"bars", len(bars),
		"trades", rec.TotalTrades,
		"persisted", out.Persisted,
	)
	return out, nil
}

// GetRun returns a persisted run with its trades.
func (s *Service) GetRun(ctx context.Context, id string) (*tradelab.RunResult, error) {
	if s.cfg.Runs == nil {
		return nil, ErrNoResultStore
	}
	rec, err := s.cfg.Runs.GetRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	trades, err := s.cfg.Runs.ListTrades(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("trades of run %s: %w", id, err)
	}
	return &tradelab.RunResult{Run: toRun(rec), Trades: toTrades(trades), Persisted: true}, nil
}

// ListRuns returns up to limit persisted runs, newest first. A limit of zero
// or less returns every run.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]tradelab.Run, error) {
	if s.cfg.Runs == nil {
		return nil, ErrNoResultStore
	}
	recs, err := s.cfg.Runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	out := make([]tradelab.Run, len(recs))
	for i := range recs {
		out[i] = toRun(&recs[i])
	}
	return out, nil
}

// strategy returns the registered strategy, or a fresh one built by the
// factory when the request overrides its risk or parameters.
func (s *Service) strategy(req tradelab.BacktestRequest) (strategy.Strategy, error) {
	if len(req.Params) == 0 && req.RiskPerTrade == 0 {
		return s.cfg.Registry.Lookup(req.Strategy)
	}
	risk := s.cfg.Risk
	if req.RiskPerTrade > 0 {
		risk.RiskPerTrade = req.RiskPerTrade
	}
	params := make(strategy.Params)
	maps.Copy(params, s.cfg.Params[req.Strategy])
	maps.Copy(params, req.Params)

	strat, err := s.factory(req.Strategy, risk, params, s.log)
	if err != nil {
		if errors.Is(err, strategy.ErrUnknownStrategy) {
			return nil, err
		}
		return nil, fmt.Errorf("strategy %s: %v: %w", req.Strategy, err, ErrBadRequest)
	}
	return strat, nil
}

func (s *Service) bars(ctx context.Context, req tradelab.BacktestRequest, market string) ([]domain.Bar, error) {
	if len(req.Bars) > 0 {
		bars := make([]domain.Bar, len(req.Bars))
		for i, b := range req.Bars {
			bars[i] = domain.Bar{
				Symbol:    req.Symbol,
				Timestamp: b.Timestamp,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
			}
		}
		return bars, nil
	}
	if s.cfg.Bars == nil {
		return nil, fmt.Errorf("no bar store configured, bars must be sent inline: %w", ErrBadRequest)
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, fmt.Errorf("start and end are required without inline bars: %w", ErrBadRequest)
	}
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("end %s before start %s: %w", req.End, req.Start, ErrBadRequest)
	}
	bars, err := s.cfg.Bars.ReadBars(ctx, req.Symbol, market, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", req.Symbol, err)
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func isBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, strategy.ErrUnknownStrategy) ||
		errors.Is(err, strategy.ErrNoBars) ||
		errors.Is(err, strategy.ErrUnsortedBars) ||
		errors.Is(err, strategy.ErrInvalidBar)
}

func httpStatus(err error) int {
	switch {
	case isBadRequest(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoResultStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err error) codes.Code {
	switch {
	case isBadRequest(err):
		return codes.InvalidArgument
	case errors.Is(err, store.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrNoResultStore):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toRun(rec *store.RunRecord) tradelab.Run {
	return tradelab.Run{
		ID:             rec.ID,
		Strategy:       rec.Strategy,
		Symbol:         rec.Symbol,
		Market:         rec.Market,
		Start:          rec.Start,
		End:            rec.End,
		CreatedAt:      rec.CreatedAt,
		InitialCapital: rec.InitialCapital,
		FinalCapital:   rec.FinalCapital,
		TotalTrades:    rec.TotalTrades,
		Metrics:        tradelab.Metrics(rec.Metrics),
		Advanced:       tradelab.Metrics(rec.Advanced),
	}
}

func toTrades(trades []domain.Trade) []tradelab.Trade {
	out := make([]tradelab.Trade, len(trades))
	for i, t := range trades {
		out[i] = tradelab.Trade{
			EntryTime:    t.EntryTime,
			ExitTime:     t.ExitTime,
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
			DurationBars: t.DurationBars,
		}
	}
	return out
}
