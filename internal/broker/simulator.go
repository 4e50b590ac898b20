package broker

import "tradelab/internal/domain"

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. Every
// method is a pure function of its arguments and the CostConfig.
type SimulatorBroker struct {
	cfg CostConfig
}

// NewSimulatorBroker creates a SimulatorBroker with the given cost model.
func NewSimulatorBroker(cfg CostConfig) *SimulatorBroker {
	return &SimulatorBroker{cfg: cfg}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Config returns the cost parameters of the broker.
func (b *SimulatorBroker) Config() CostConfig {
	return b.cfg
}

// Fill applies slippage and then, when enabled, the spread.
func (b *SimulatorBroker) Fill(price float64, kind domain.SignalKind, inst domain.InstrumentInfo) float64 {
	return b.ApplySpread(b.ApplySlippage(price, kind), kind, inst)
}

// ApplySlippage moves price by SlippagePct in the direction that worsens the
// fill: buys and short covers pay up, sells and long exits pay down.
func (b *SimulatorBroker) ApplySlippage(price float64, kind domain.SignalKind) float64 {
	slip := price * b.cfg.SlippagePct
	if kind.PaysUp() {
		return price + slip
	}
	return price - slip
}

// ApplySpread adjusts price by Spread points of the instrument when spread
// modelling is enabled. It is a no-op otherwise.
func (b *SimulatorBroker) ApplySpread(price float64, kind domain.SignalKind, inst domain.InstrumentInfo) float64 {
	if !b.cfg.UseSpread {
		return price
	}
	spread := inst.Spread * inst.Point
	if kind.PaysUp() {
		return price + spread
	}
	return price - spread
}

// Commission returns fixed×2 + (entry+exit)×size×CommissionPct.
func (b *SimulatorBroker) Commission(entry, exit, size float64) float64 {
	return b.cfg.Commission*2 + b.VolumeCommission(entry, exit, size)
}

// VolumeCommission returns (entry+exit)×size×CommissionPct.
func (b *SimulatorBroker) VolumeCommission(entry, exit, size float64) float64 {
	return (entry + exit) * size * b.cfg.CommissionPct
}
