// Package broker defines the Broker interface through which the simulation
// engine obtains execution prices and transaction costs, and provides the
// simulated implementation used for backtesting.
package broker

import "tradelab/internal/domain"

// Broker abstracts order execution costs for the simulation engine.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Fill converts a theoretical price into the price an order of the given
	// kind would actually be filled at.
	Fill(price float64, kind domain.SignalKind, inst domain.InstrumentInfo) float64

	// Commission returns the round-trip commission for a position of size
	// lots opened at entry and closed at exit.
	Commission(entry, exit, size float64) float64

	// VolumeCommission is the part of Commission proportional to the traded
	// volume. Later legs of a position closed in parts pay only this part.
	VolumeCommission(entry, exit, size float64) float64
}

// CostConfig holds the execution friction parameters of a simulation.
type CostConfig struct {
	// Commission is a fixed amount charged per side.
	Commission float64
	// CommissionPct is charged on the traded price volume of both sides.
	CommissionPct float64
	// SlippagePct moves each fill against the trader by this fraction.
	SlippagePct float64
	// UseSpread adds the instrument spread to every fill.
	UseSpread bool
}
