// Package engine implements the position lifecycle of a backtest: sizing,
// margin checks, exit evaluation, and the Flat/Open state machine that turns
// signals into closed trades.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"tradelab/internal/broker"
	"tradelab/internal/domain"
)

var (
	// ErrPositionOpen is returned when an entry is attempted while a
	// position is already open.
	ErrPositionOpen = errors.New("position already open")

	// ErrNoPosition is returned when a close is attempted while flat.
	ErrNoPosition = errors.New("no open position")

	// ErrInvalidSignal is returned for signals the engine cannot act on.
	ErrInvalidSignal = errors.New("invalid signal")
)

// Config is the account configuration of a single simulation.
type Config struct {
	InitialCapital float64
	Leverage       float64
	MarginUsage    float64
}

// Engine owns the account and the single open position of one simulation
// run. It is not safe for concurrent use; independent runs use independent
// Engines.
type Engine struct {
	cfg    Config
	broker broker.Broker
	risk   *RiskManager
	log    *slog.Logger

	balance float64
	equity  float64
	pos     *domain.Position
	inst    domain.InstrumentInfo
	trades  []domain.Trade

	// index is the position of the most recently advanced bar.
	index int

	// feesCharged is set once the open position has paid the fixed
	// commission on one of its legs.
	feesCharged bool
}

// NewEngine creates a flat Engine funded with cfg.InitialCapital.
func NewEngine(cfg Config, b broker.Broker, risk *RiskManager, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if risk == nil {
		risk = NewRiskManager(cfg.Leverage, cfg.MarginUsage)
	}
	return &Engine{
		cfg:     cfg,
		broker:  b,
		risk:    risk,
		log:     log,
		balance: cfg.InitialCapital,
		equity:  cfg.InitialCapital,
		index:   -1,
	}
}

// Balance returns the realised account balance.
func (e *Engine) Balance() float64 { return e.balance }

// Equity returns the balance plus the last marked unrealised PnL.
func (e *Engine) Equity() float64 { return e.equity }

// Position returns the open position, or nil when flat. The position is
// owned by the Engine; exit checkers may update its trailing and breakeven
// state but must not replace it.
func (e *Engine) Position() *domain.Position { return e.pos }

// Trades returns a copy of the ledger of closed trades.
func (e *Engine) Trades() []domain.Trade {
	out := make([]domain.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// Advance records that bar is now the current bar. It must be called once
// per bar, in order, before any other operation for that bar.
func (e *Engine) Advance(_ domain.Bar) {
	e.index++
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// Open transitions Flat → Open. The fill price comes from the broker and the
// position must pass the margin check; on refusal the engine stays flat.
func (e *Engine) Open(sig domain.Signal, inst domain.InstrumentInfo) error {
	if e.pos != nil {
		e.log.Debug("entry ignored, position already open",
			"time", sig.Timestamp, "kind", sig.Kind)
		return ErrPositionOpen
	}
	if !sig.Kind.IsEntry() {
		return fmt.Errorf("open with %s: %w", sig.Kind, ErrInvalidSignal)
	}
	if sig.Size <= 0 || !finite(sig.Size) {
		return fmt.Errorf("open with size %v: %w", sig.Size, ErrInvalidSignal)
	}
	if !finite(sig.Price) || !finite(sig.StopLoss) || !finite(sig.TakeProfit) {
		return fmt.Errorf("open at %v with stop %v target %v: %w", sig.Price, sig.StopLoss, sig.TakeProfit, ErrInvalidSignal)
	}

	price := e.broker.Fill(sig.Price, sig.Kind, inst)
	if err := e.risk.CheckMargin(price, sig.Size, inst, e.balance); err != nil {
		e.log.Warn("entry refused",
			"time", sig.Timestamp,
			"kind", sig.Kind,
			"size", sig.Size,
			"price", price,
			"balance", e.balance,
			"error", err,
		)
		return err
	}

	dir := domain.EntryDirection(sig.Kind)
	e.inst = inst
	e.feesCharged = false
	e.pos = &domain.Position{
		EntryTime:    sig.Timestamp,
		EntryIndex:   e.index,
		EntryPrice:   price,
		SignalPrice:  sig.Price,
		Direction:    dir,
		Size:         sig.Size,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		HighestPrice: price,
		LowestPrice:  price,
		Trailing:     sig.Trailing,
		PartialTP:    sig.PartialTP,
		Breakeven:    sig.Breakeven,
	}

	e.log.Info("position opened",
		"time", sig.Timestamp,
		"direction", dir,
		"size", sig.Size,
		"price", price,
		"stop_loss", sig.StopLoss,
		"take_profit", sig.TakeProfit,
	)
	return nil
}

// Close transitions Open → Flat, or closes part of the position when
// sig.Size is positive and below the open size. It returns the Trade that
// was appended to the ledger. The fixed commission is charged on the first
// leg of a position only. A partial close whose size rounds to zero
// lots is skipped and returns a nil Trade.
func (e *Engine) Close(sig domain.Signal, bar domain.Bar) (*domain.Trade, error) {
	pos := e.pos
	if pos == nil {
		return nil, ErrNoPosition
	}

	size := pos.Size
	partial := false
	if sig.Size > 0 && sig.Size < pos.Size {
		size = roundToStep(sig.Size, e.inst.VolumeStep)
		if size <= 0 {
			pos.PartialTaken = true
			e.log.Debug("partial close below volume step skipped", "time", bar.Timestamp, "size", sig.Size)
			return nil, nil
		}
		partial = size < pos.Size
		if !partial {
			size = pos.Size
		}
	}

	kind := domain.CloseKind(pos.Direction)
	exit := e.broker.Fill(sig.Price, kind, e.inst)

	gross := (exit - pos.EntryPrice) * size
	if pos.Direction == domain.DirectionShort {
		gross = -gross
	}
	commission := e.broker.Commission(pos.EntryPrice, exit, size)
	if e.feesCharged {
		commission = e.broker.VolumeCommission(pos.EntryPrice, exit, size)
	}
	e.feesCharged = true
	net := gross - commission

	reason := sig.Reason
	if reason == "" {
		reason = domain.ExitSignal
	}

	mae, mfe := excursions(pos)
	trade := domain.Trade{
		EntryTime:    pos.EntryTime,
		ExitTime:     sig.Timestamp,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exit,
		Direction:    pos.Direction,
		Size:         size,
		PnL:          net,
		PnLPct:       net / (pos.EntryPrice * size),
		Commission:   commission,
		Slippage:     math.Abs(exit-sig.Price) * size,
		StopLoss:     pos.StopLoss,
		TakeProfit:   pos.TakeProfit,
		ExitReason:   reason,
		MAE:          mae,
		MFE:          mfe,
		DurationBars: e.index - pos.EntryIndex + 1,
	}
	e.trades = append(e.trades, trade)
	e.balance += net

	if partial {
		pos.Size = decimal.NewFromFloat(pos.Size).Sub(decimal.NewFromFloat(size)).InexactFloat64()
		pos.PartialTaken = true
		e.equity = e.balance + pos.UnrealizedPnL(bar.Close)
	} else {
		e.pos = nil
		e.equity = e.balance
	}

	e.log.Info("position closed",
		"time", sig.Timestamp,
		"direction", trade.Direction,
		"size", size,
		"price", exit,
		"pnl", net,
		"pnl_pct", trade.PnLPct,
		"reason", reason,
		"partial", partial,
	)
	return &trade, nil
}

// ForceClose closes any open position at bar's close with reason
// end_of_data. It is a no-op when flat.
func (e *Engine) ForceClose(bar domain.Bar) (*domain.Trade, error) {
	if e.pos == nil {
		return nil, nil
	}
	return e.Close(domain.Signal{
		Timestamp: bar.Timestamp,
		Kind:      domain.CloseKind(e.pos.Direction),
		Price:     bar.Close,
		Reason:    domain.ExitEndOfData,
	}, bar)
}

// MarkToMarket updates the position's price extrema from bar and
// recomputes equity at the bar's close.
func (e *Engine) MarkToMarket(bar domain.Bar) {
	if e.pos == nil {
		e.equity = e.balance
		return
	}
	if bar.High > e.pos.HighestPrice {
		e.pos.HighestPrice = bar.High
	}
	if bar.Low < e.pos.LowestPrice {
		e.pos.LowestPrice = bar.Low
	}
	e.equity = e.balance + e.pos.UnrealizedPnL(bar.Close)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// excursions returns the maximum adverse and favourable excursion of pos as
// fractions of the entry price.
func excursions(pos *domain.Position) (mae, mfe float64) {
	entry := pos.EntryPrice
	if entry == 0 {
		return 0, 0
	}
	if pos.Direction == domain.DirectionShort {
		return (entry - pos.HighestPrice) / entry, (entry - pos.LowestPrice) / entry
	}
	return (pos.LowestPrice - entry) / entry, (pos.HighestPrice - entry) / entry
}

// roundToStep rounds v down to a multiple of step. A non-positive step
// leaves v unchanged.
func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(v).Div(s).Floor().Mul(s).InexactFloat64()
}
