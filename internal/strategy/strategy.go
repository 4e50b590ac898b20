// Package strategy defines the Strategy interface for trading strategies,
// provides a Registry for managing multiple strategy implementations, and
// runs strategies through the bar-driven backtest simulation.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"tradelab/internal/domain"
)

var (
	// ErrUnknownStrategy is returned when a strategy name is not registered.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrNoBars is returned when a simulation is given no bars.
	ErrNoBars = errors.New("no bars")

	// ErrUnsortedBars is returned when bar timestamps are not strictly
	// increasing.
	ErrUnsortedBars = errors.New("bars not in strictly increasing time order")

	// ErrInvalidBar is returned for a bar with non-finite prices or with a
	// high below its low.
	ErrInvalidBar = errors.New("invalid bar")
)

// Strategy is the interface that all trading strategies must implement.
//
// Implementations must be stateless: everything that depends on the bars of
// one run lives in the Frame returned by CalculateIndicators or in locals of
// GenerateSignals, so a single value can serve concurrent runs.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// CalculateIndicators derives the indicator series the strategy needs.
	CalculateIndicators(bars []domain.Bar) (*Frame, error)

	// GenerateSignals returns the strategy's signals over the whole frame.
	GenerateSignals(f *Frame) ([]domain.Signal, error)

	// ManageRisk returns a copy of an entry signal with stop, target and
	// size filled in. price is the close of the bar the signal fires on and
	// balance the realised account balance at that point.
	ManageRisk(sig domain.Signal, price, balance float64, inst domain.InstrumentInfo) domain.Signal
}

// ExitChecker is implemented by strategies that replace the default exit
// evaluation for open positions. CheckExit may update the trailing and
// breakeven state of pos and returns nil when the position stays open.
type ExitChecker interface {
	CheckExit(pos *domain.Position, bar domain.Bar) *domain.Signal
}

// ---------------------------------------------------------------------------
// Frame
// ---------------------------------------------------------------------------

// Frame is the bars of one run together with named indicator series aligned
// to them.
type Frame struct {
	Bars       []domain.Bar
	Indicators map[string][]float64
}

// NewFrame returns a frame over bars with no indicators.
func NewFrame(bars []domain.Bar) *Frame {
	return &Frame{Bars: bars, Indicators: make(map[string][]float64)}
}

// Len returns the number of bars.
func (f *Frame) Len() int { return len(f.Bars) }

// Set stores an indicator series. It panics if the series is not aligned to
// the bars.
func (f *Frame) Set(name string, series []float64) {
	if len(series) != len(f.Bars) {
		panic(fmt.Sprintf("indicator %q has %d values for %d bars", name, len(series), len(f.Bars)))
	}
	if f.Indicators == nil {
		f.Indicators = make(map[string][]float64)
	}
	f.Indicators[name] = series
}

// Value returns indicator name at bar i, or NaN when the indicator is
// missing or i is out of range.
func (f *Frame) Value(name string, i int) float64 {
	s, ok := f.Indicators[name]
	if !ok || i < 0 || i >= len(s) {
		return math.NaN()
	}
	return s[i]
}

// Closes returns the close prices of the bars.
func (f *Frame) Closes() []float64 {
	out := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = b.Close
	}
	return out
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds a named collection of strategies for lookup and enumeration.
// It is populated at start-up and read-only afterwards.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Lookup is Get with an ErrUnknownStrategy error for missing names.
func (r *Registry) Lookup(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownStrategy)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Params
// ---------------------------------------------------------------------------

// Params are free-form strategy parameters as decoded from YAML or JSON.
// Accessors fall back to the default when a key is missing or has the wrong
// type.
type Params map[string]any

// Float returns key as a float64.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int returns key as an int. Whole floats are accepted.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	}
	return def
}

// Bool returns key as a bool.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// String returns key as a string.
func (p Params) String(key string, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}
