package strategy

import (
	"log/slog"
	"math"

	"tradelab/internal/domain"
	"tradelab/internal/engine"
)

// RiskParams configures the default risk management shared by strategies.
type RiskParams struct {
	RiskPerTrade      float64 `yaml:"risk_per_trade" json:"risk_per_trade"`
	UseTrailingStop   bool    `yaml:"use_trailing_stop" json:"use_trailing_stop"`
	TrailingStopPct   float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	RiskReward        float64 `yaml:"risk_reward" json:"risk_reward"`
	FixedStopPct      float64 `yaml:"fixed_stop_pct" json:"fixed_stop_pct"`
	FixedTargetPct    float64 `yaml:"fixed_target_pct" json:"fixed_target_pct"`
	ATRStopMultiplier float64 `yaml:"atr_stop_multiplier" json:"atr_stop_multiplier"`
}

// DefaultRiskParams returns 2% risk per trade, a 2% trailing stop, a 2:1
// reward-to-risk target and ATR×2 (or 2% fixed) stops.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		RiskPerTrade:      0.02,
		UseTrailingStop:   true,
		TrailingStopPct:   0.02,
		RiskReward:        2.0,
		FixedStopPct:      0.02,
		FixedTargetPct:    0.04,
		ATRStopMultiplier: 2.0,
	}
}

// MetaATR is the signal metadata key from which Base reads the ATR used for
// default stops.
const MetaATR = "atr"

// Base provides the default ManageRisk. Strategies embed it.
type Base struct {
	Risk  RiskParams
	sizer *engine.PositionSizer
}

// NewBase returns a Base sizing with the contract-aware position sizer. A
// nil logger uses slog.Default().
func NewBase(risk RiskParams, log *slog.Logger) Base {
	return Base{Risk: risk, sizer: engine.NewPositionSizer(log)}
}

// ManageRisk fills in what the signal leaves unset:
//
//   - stop-loss: ATR×multiplier from the "atr" metadata, else a fixed
//     percentage of the reference price;
//   - take-profit: stop distance × reward-to-risk, else a fixed percentage;
//   - trailing rule when trailing stops are enabled;
//   - size from the position sizer unless the signal is ManagedSize.
//
// The reference price is the signal price, or price when the signal has none.
func (b Base) ManageRisk(sig domain.Signal, price, balance float64, inst domain.InstrumentInfo) domain.Signal {
	out := sig
	ref := sig.Price
	if ref <= 0 {
		ref = price
		out.Price = price
	}
	long := domain.EntryDirection(sig.Kind) == domain.DirectionLong

	if out.StopLoss == 0 {
		out.StopLoss = b.stopLoss(sig, ref, long)
	}
	if out.TakeProfit == 0 {
		out.TakeProfit = b.takeProfit(out.StopLoss, ref, long)
	}
	if b.Risk.UseTrailingStop && out.Trailing == nil && b.Risk.TrailingStopPct > 0 {
		out.Trailing = &domain.TrailingRule{Pct: b.Risk.TrailingStopPct}
	}
	if !out.ManagedSize {
		sizer := b.sizer
		if sizer == nil {
			sizer = engine.NewPositionSizer(nil)
		}
		out.Size = sizer.Size(balance, b.Risk.RiskPerTrade, ref, out.StopLoss, inst)
	}
	return out
}

func (b Base) stopLoss(sig domain.Signal, ref float64, long bool) float64 {
	if atr, ok := sig.Metadata[MetaATR].(float64); ok && atr > 0 && !math.IsNaN(atr) {
		mult := b.Risk.ATRStopMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		if long {
			return ref - atr*mult
		}
		return ref + atr*mult
	}
	if long {
		return ref * (1 - b.Risk.FixedStopPct)
	}
	return ref * (1 + b.Risk.FixedStopPct)
}

func (b Base) takeProfit(stop, ref float64, long bool) float64 {
	if stop != 0 && b.Risk.RiskReward > 0 {
		reward := math.Abs(ref-stop) * b.Risk.RiskReward
		if long {
			return ref + reward
		}
		return ref - reward
	}
	if long {
		return ref * (1 + b.Risk.FixedTargetPct)
	}
	return ref * (1 - b.Risk.FixedTargetPct)
}
