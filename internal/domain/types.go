// Package domain defines the core value types shared across the backtesting
// stack: bars, signals, positions, closed trades, and instrument metadata.
package domain

import "time"

// Bar is a single OHLCV price bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalKind identifies the action a Signal proposes.
type SignalKind string

const (
	SignalOpenLong   SignalKind = "OPEN_LONG"
	SignalOpenShort  SignalKind = "OPEN_SHORT"
	SignalCloseLong  SignalKind = "CLOSE_LONG"
	SignalCloseShort SignalKind = "CLOSE_SHORT"
)

// IsEntry reports whether the kind opens a new position.
func (k SignalKind) IsEntry() bool {
	return k == SignalOpenLong || k == SignalOpenShort
}

// IsExit reports whether the kind closes an open position.
func (k SignalKind) IsExit() bool {
	return k == SignalCloseLong || k == SignalCloseShort
}

// PaysUp reports whether a fill for this kind is worsened upwards, i.e. the
// trader is buying (opening a long or covering a short).
func (k SignalKind) PaysUp() bool {
	return k == SignalOpenLong || k == SignalCloseShort
}

// Direction is the side of an open position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// EntryDirection returns the position direction an entry signal kind opens.
func EntryDirection(k SignalKind) Direction {
	if k == SignalOpenShort {
		return DirectionShort
	}
	return DirectionLong
}

// CloseKind returns the signal kind that closes a position of direction d.
func CloseKind(d Direction) SignalKind {
	if d == DirectionShort {
		return SignalCloseShort
	}
	return SignalCloseLong
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal            ExitReason = "signal"
	ExitStopLoss          ExitReason = "stop_loss"
	ExitTakeProfit        ExitReason = "take_profit"
	ExitTrailingStop      ExitReason = "trailing_stop"
	ExitEndOfData         ExitReason = "end_of_data"
	ExitPartialTakeProfit ExitReason = "partial_take_profit"
	ExitBreakeven         ExitReason = "breakeven"
)

// TrailingRule configures a trailing stop for a single position.
type TrailingRule struct {
	// Pct is the distance from the favourable extreme as a fraction of price.
	Pct float64
	// Activation is the price that must be touched before trailing starts.
	// Zero means the stop trails from entry.
	Activation float64
}

// PartialTakeProfit closes Fraction of the open size once Price is touched.
// It fires at most once per position.
type PartialTakeProfit struct {
	Price    float64
	Fraction float64
}

// Breakeven moves the stop-loss to Stop once Activation is touched.
type Breakeven struct {
	Activation float64
	Stop       float64
}

// Signal is a proposed action produced by a strategy or by the exit
// evaluator. Stop-loss and take-profit prices of zero mean "unset".
type Signal struct {
	Timestamp  time.Time
	Kind       SignalKind
	Price      float64
	StopLoss   float64
	TakeProfit float64

	// Size is a hint in lots. It is replaced by the sizing calculator unless
	// ManagedSize is set. On exit signals a Size below the open size requests
	// a partial close.
	Size        float64
	ManagedSize bool

	// Reason is set on exit signals.
	Reason ExitReason

	Trailing  *TrailingRule
	PartialTP *PartialTakeProfit
	Breakeven *Breakeven

	Metadata map[string]any
}

// ---------------------------------------------------------------------------
// Positions and trades
// ---------------------------------------------------------------------------

// Position is the single currently-open exposure of a simulation.
type Position struct {
	EntryTime   time.Time
	EntryIndex  int
	EntryPrice  float64
	SignalPrice float64
	Direction   Direction
	Size        float64

	StopLoss     float64
	TakeProfit   float64
	TrailingStop float64

	HighestPrice float64
	LowestPrice  float64

	Trailing  *TrailingRule
	PartialTP *PartialTakeProfit
	Breakeven *Breakeven

	TrailingActive bool
	PartialTaken   bool
	BreakevenArmed bool
}

// UnrealizedPnL returns the open profit or loss at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Direction == DirectionShort {
		return (p.EntryPrice - price) * p.Size
	}
	return (price - p.EntryPrice) * p.Size
}

// Trade is an immutable record of a closed position or a closed part of one.
type Trade struct {
	EntryTime    time.Time
	ExitTime     time.Time
	EntryPrice   float64
	ExitPrice    float64
	Direction    Direction
	Size         float64
	PnL          float64
	PnLPct       float64
	Commission   float64
	Slippage     float64
	StopLoss     float64
	TakeProfit   float64
	ExitReason   ExitReason
	MAE          float64
	MFE          float64
	DurationBars int
}

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// InstrumentInfo describes the broker conventions of a traded symbol.
type InstrumentInfo struct {
	Symbol       string
	Point        float64
	ContractSize float64
	Spread       float64 // in points
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
}

// DefaultInstrument returns the fallback used when no metadata is supplied.
// It describes a 5-digit currency pair with standard 100000-unit lots.
func DefaultInstrument() InstrumentInfo {
	return InstrumentInfo{
		Point:        0.00001,
		ContractSize: 100000,
		Spread:       0,
		VolumeMin:    0.01,
		VolumeMax:    100,
		VolumeStep:   0.01,
	}
}

// Valid reports whether the metadata can be used for sizing.
func (i InstrumentInfo) Valid() bool {
	return i.Point > 0 && i.ContractSize > 0 && i.VolumeStep > 0 &&
		i.VolumeMin > 0 && i.VolumeMax >= i.VolumeMin
}
