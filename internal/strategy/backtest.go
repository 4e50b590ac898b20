package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"tradelab/internal/analysis"
	"tradelab/internal/broker"
	"tradelab/internal/domain"
	"tradelab/internal/engine"
	"tradelab/internal/store"
)

// BacktestResult is the read-only outcome of one simulation. The curves
// have one point per bar plus a leading point for the initial state, so
// len(Equity) == len(bars)+1. Timestamps[0] is the first bar's timestamp.
type BacktestResult struct {
	RunID          string           `json:"run_id,omitempty"`
	Strategy       string           `json:"strategy"`
	Symbol         string           `json:"symbol"`
	Trades         []domain.Trade   `json:"trades"`
	Timestamps     []time.Time      `json:"timestamps"`
	Equity         []float64        `json:"equity"`
	Balance        []float64        `json:"balance"`
	Drawdown       []float64        `json:"drawdown"`
	Metrics        analysis.Metrics `json:"metrics"`
	Advanced       analysis.Metrics `json:"advanced,omitempty"`
	InitialCapital float64          `json:"initial_capital"`
	FinalCapital   float64          `json:"final_capital"`
}

// Curves returns the per-bar series for export.
func (r *BacktestResult) Curves() store.Curves {
	return store.Curves{
		Timestamps: r.Timestamps,
		Equity:     r.Equity,
		Balance:    r.Balance,
		Drawdown:   r.Drawdown,
	}
}

// Record returns a persistable summary of r with a new run ID, and stores
// that ID in r.RunID.
func (r *BacktestResult) Record(market string) *store.RunRecord {
	rec := store.NewRunRecord(r.Strategy, r.Symbol, market)
	if n := len(r.Timestamps); n > 0 {
		rec.Start = r.Timestamps[0]
		rec.End = r.Timestamps[n-1]
	}
	rec.InitialCapital = r.InitialCapital
	rec.FinalCapital = r.FinalCapital
	rec.TotalTrades = len(r.Trades)
	rec.Metrics = r.Metrics
	rec.Advanced = r.Advanced
	r.RunID = rec.ID
	return rec
}

// Config is the account and cost configuration applied to every run.
type Config struct {
	Engine engine.Config
	Costs  broker.CostConfig
	// RiskFreeRate is annual; zero uses analysis.DefaultRiskFree.
	RiskFreeRate float64
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics. It holds no per-run state and may run simulations
// concurrently.
type Backtester struct {
	store    store.BarStore
	registry *Registry
	cfg      Config
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry. barStore may be nil when
// only Simulate and RunWindows are used.
func NewBacktester(barStore store.BarStore, registry *Registry, cfg Config, log *slog.Logger) *Backtester {
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}
}

// Config returns the run configuration.
func (bt *Backtester) Config() Config { return bt.cfg }

// WithConfig returns a Backtester sharing bt's store, registry and logger
// with a different run configuration.
func (bt *Backtester) WithConfig(cfg Config) *Backtester {
	cp := *bt
	cp.cfg = cfg
	return &cp
}

// Run loads bars for symbol from the bar store and simulates the named
// strategy over them.
func (bt *Backtester) Run(
	ctx context.Context,
	name, symbol, market string,
	start, end time.Time,
	inst *domain.InstrumentInfo,
) (*BacktestResult, error) {
	s, err := bt.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if bt.store == nil {
		return nil, errors.New("backtester has no bar store")
	}
	bars, err := bt.store.ReadBars(ctx, symbol, market, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	return bt.Simulate(s, bars, inst)
}

// RunWindows splits bars into n consecutive windows and simulates the named
// strategy on each one in parallel, every window with a fresh account.
// Results are returned in window order. Windows not yet started when ctx is
// cancelled are skipped and the context error is returned.
func (bt *Backtester) RunWindows(
	ctx context.Context,
	name string,
	bars []domain.Bar,
	inst *domain.InstrumentInfo,
	n int,
) ([]*BacktestResult, error) {
	s, err := bt.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 1
	}
	if len(bars) < n {
		return nil, fmt.Errorf("%d bars for %d windows: %w", len(bars), n, ErrNoBars)
	}

	results := make([]*BacktestResult, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		lo, hi := i*len(bars)/n, (i+1)*len(bars)/n
		window := bars[lo:hi]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := bt.Simulate(s, window, inst)
			if err != nil {
				return fmt.Errorf("window %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Simulation
// ---------------------------------------------------------------------------

// Simulate runs s over bars with a fresh engine funded from the configured
// initial capital. A nil or invalid inst falls back to the default
// instrument with a warning.
//
// For each bar, in order: a pending entry signal is risk-managed and opened
// while flat; an open position is then checked for an explicit close signal
// or an exit condition and closed, and whatever remains open is marked to
// market. Any position still open after the last bar is closed at its close
// with reason end_of_data.
func (bt *Backtester) Simulate(s Strategy, bars []domain.Bar, inst *domain.InstrumentInfo) (*BacktestResult, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}
	log := bt.log.With("strategy", s.Name(), "symbol", bars[0].Symbol)
	instrument := engine.NewPositionSizer(log).Instrument(inst)

	frame, err := s.CalculateIndicators(bars)
	if err != nil {
		return nil, fmt.Errorf("calculating indicators: %w", err)
	}
	signals, err := s.GenerateSignals(frame)
	if err != nil {
		return nil, fmt.Errorf("generating signals: %w", err)
	}
	byTime := indexSignals(signals)

	eng := engine.NewEngine(bt.cfg.Engine, broker.NewSimulatorBroker(bt.cfg.Costs), nil, log)
	checkExit := engine.NewEvaluator().Check
	if ec, ok := s.(ExitChecker); ok {
		checkExit = ec.CheckExit
	}

	n := len(bars) + 1
	timestamps := make([]time.Time, 0, n)
	equity := make([]float64, 0, n)
	balance := make([]float64, 0, n)
	timestamps = append(timestamps, bars[0].Timestamp)
	equity = append(equity, eng.Equity())
	balance = append(balance, eng.Balance())

	log.Info("backtest started", "bars", len(bars), "signals", len(signals))

	for _, bar := range bars {
		eng.Advance(bar)
		sig, hasSignal := byTime[bar.Timestamp.UnixNano()]

		if hasSignal && sig.Kind.IsEntry() && eng.Position() == nil {
			managed := s.ManageRisk(sig, bar.Close, eng.Balance(), instrument)
			if err := eng.Open(managed, instrument); err != nil {
				switch {
				case errors.Is(err, engine.ErrInsufficientMargin):
					// Refusal is logged by the engine; the run goes on flat.
				case errors.Is(err, engine.ErrInvalidSignal):
					log.Warn("entry signal dropped", "time", bar.Timestamp, "kind", managed.Kind, "size", managed.Size, "error", err)
				default:
					return nil, err
				}
			}
		}

		if pos := eng.Position(); pos != nil {
			var exit *domain.Signal
			if hasSignal && sig.Kind == domain.CloseKind(pos.Direction) {
				exit = explicitExit(sig, bar)
			} else {
				exit = checkExit(pos, bar)
			}

			if exit != nil {
				if _, err := eng.Close(*exit, bar); err != nil {
					return nil, fmt.Errorf("closing position at %s: %w", bar.Timestamp, err)
				}
			}
			// A partial close leaves the remainder open on this bar.
			if eng.Position() != nil {
				eng.MarkToMarket(bar)
			}
		}

		timestamps = append(timestamps, bar.Timestamp)
		equity = append(equity, eng.Equity())
		balance = append(balance, eng.Balance())
	}

	last := bars[len(bars)-1]
	if eng.Position() != nil {
		if _, err := eng.ForceClose(last); err != nil {
			return nil, fmt.Errorf("closing position at end of data: %w", err)
		}
		equity[len(equity)-1] = eng.Equity()
		balance[len(balance)-1] = eng.Balance()
	}

	trades := eng.Trades()
	result := &BacktestResult{
		Strategy:       s.Name(),
		Symbol:         last.Symbol,
		Trades:         trades,
		Timestamps:     timestamps,
		Equity:         equity,
		Balance:        balance,
		Drawdown:       analysis.Drawdown(equity),
		InitialCapital: bt.cfg.Engine.InitialCapital,
		FinalCapital:   eng.Equity(),
	}
	result.Metrics = analysis.Calculate(analysis.Input{
		Trades:         trades,
		Equity:         equity,
		Balance:        balance,
		InitialCapital: bt.cfg.Engine.InitialCapital,
		RiskFreeRate:   bt.cfg.RiskFreeRate,
	})
	if len(trades) > 0 {
		result.Advanced = analysis.NewAnalyzer(trades, equity, bt.cfg.Engine.InitialCapital).Metrics()
	}

	log.Info("backtest completed",
		"trades", len(trades),
		"final_capital", result.FinalCapital,
		"return_pct", (result.FinalCapital/result.InitialCapital-1)*100,
	)
	return result, nil
}

// explicitExit turns a strategy close signal into an engine close request at
// the signal price, or at the bar close when the signal has none.
func explicitExit(sig domain.Signal, bar domain.Bar) *domain.Signal {
	exit := sig
	exit.Timestamp = bar.Timestamp
	if exit.Price <= 0 {
		exit.Price = bar.Close
	}
	exit.Size = 0
	exit.Reason = domain.ExitSignal
	return &exit
}

// indexSignals keys signals by timestamp. The first signal for a timestamp
// wins.
func indexSignals(signals []domain.Signal) map[int64]domain.Signal {
	out := make(map[int64]domain.Signal, len(signals))
	for _, s := range signals {
		k := s.Timestamp.UnixNano()
		if _, dup := out[k]; dup {
			continue
		}
		out[k] = s
	}
	return out
}

func validateBars(bars []domain.Bar) error {
	if len(bars) == 0 {
		return ErrNoBars
	}
	for i, b := range bars {
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("bar %d at %s has non-finite price: %w", i, b.Timestamp, ErrInvalidBar)
			}
		}
		if b.High < b.Low {
			return fmt.Errorf("bar %d at %s has high %v below low %v: %w", i, b.Timestamp, b.High, b.Low, ErrInvalidBar)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar %d at %s: %w", i, b.Timestamp, ErrUnsortedBars)
		}
	}
	return nil
}
