// Package builtins provides built-in strategy implementations that ship with
// tradelab.
package builtins

import (
	"fmt"
	"log/slog"
	"sort"

	"tradelab/internal/strategy"
)

// Built-in strategy names.
const (
	NameMACross    = "ma_cross"
	NameNYRange    = "ny_range"
	NameTwoBearish = "two_bearish"
)

type constructor func(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (strategy.Strategy, error)

var constructors = map[string]constructor{
	NameMACross: func(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (strategy.Strategy, error) {
		return NewMACross(risk, p, log)
	},
	NameNYRange: func(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (strategy.Strategy, error) {
		return NewNYRange(risk, p, log)
	},
	NameTwoBearish: func(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (strategy.Strategy, error) {
		return NewTwoBearish(risk, p, log)
	},
}

// Names returns the sorted names of the built-in strategies.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named built-in from shared risk parameters and its own
// parameters. Unknown names return strategy.ErrUnknownStrategy.
func New(name string, risk strategy.RiskParams, params strategy.Params, log *slog.Logger) (strategy.Strategy, error) {
	c, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, strategy.ErrUnknownStrategy)
	}
	if log == nil {
		log = slog.Default()
	}
	return c(risk, params, log.With("strategy", name))
}

// Register adds every built-in to r. params holds optional per-strategy
// parameters keyed by strategy name.
func Register(r *strategy.Registry, risk strategy.RiskParams, params map[string]strategy.Params, log *slog.Logger) error {
	for _, name := range Names() {
		s, err := New(name, risk, params[name], log)
		if err != nil {
			return fmt.Errorf("building %s: %w", name, err)
		}
		r.Register(s)
	}
	return nil
}
