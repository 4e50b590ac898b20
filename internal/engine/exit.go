package engine

import (
	"tradelab/internal/domain"
)

// Evaluator decides, bar by bar, whether an open position's protective
// orders have been breached. It holds no state of its own; the trailing stop
// and breakeven progress live on the Position.
type Evaluator struct{}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Check updates the trailing stop of pos from bar and tests, in priority
// order, stop-loss, trailing stop, take-profit and partial take-profit
// against the bar's range. The first breach yields a close signal priced at
// the breached level. When nothing breaches, breakeven arming is applied and
// nil is returned; an armed breakeven stop is first tested on the next bar.
func (e *Evaluator) Check(pos *domain.Position, bar domain.Bar) *domain.Signal {
	if pos == nil {
		return nil
	}
	e.updateTrailing(pos, bar)

	long := pos.Direction == domain.DirectionLong
	hitBelow := func(level float64) bool { return level > 0 && bar.Low <= level }
	hitAbove := func(level float64) bool { return level > 0 && bar.High >= level }

	stopHit, targetHit := hitBelow, hitAbove
	if !long {
		stopHit, targetHit = hitAbove, hitBelow
	}

	if stopHit(pos.StopLoss) {
		reason := domain.ExitStopLoss
		if pos.BreakevenArmed {
			reason = domain.ExitBreakeven
		}
		return closeSignal(pos, bar, pos.StopLoss, reason)
	}
	if stopHit(pos.TrailingStop) {
		return closeSignal(pos, bar, pos.TrailingStop, domain.ExitTrailingStop)
	}
	if targetHit(pos.TakeProfit) {
		return closeSignal(pos, bar, pos.TakeProfit, domain.ExitTakeProfit)
	}
	if tp := pos.PartialTP; tp != nil && !pos.PartialTaken && tp.Fraction > 0 && tp.Fraction < 1 && targetHit(tp.Price) {
		sig := closeSignal(pos, bar, tp.Price, domain.ExitPartialTakeProfit)
		sig.Size = pos.Size * tp.Fraction
		return sig
	}

	e.armBreakeven(pos, bar)
	return nil
}

// updateTrailing moves the trailing stop towards price using the bar's
// favourable extreme. The stop only ever tightens.
func (e *Evaluator) updateTrailing(pos *domain.Position, bar domain.Bar) {
	rule := pos.Trailing
	if rule == nil || rule.Pct <= 0 {
		return
	}
	long := pos.Direction == domain.DirectionLong

	if !pos.TrailingActive {
		switch {
		case rule.Activation <= 0:
			pos.TrailingActive = true
		case long && bar.High >= rule.Activation:
			pos.TrailingActive = true
		case !long && bar.Low <= rule.Activation:
			pos.TrailingActive = true
		}
		if !pos.TrailingActive {
			return
		}
	}

	if long {
		candidate := bar.High * (1 - rule.Pct)
		if pos.TrailingStop == 0 || candidate > pos.TrailingStop {
			pos.TrailingStop = candidate
		}
		return
	}
	candidate := bar.Low * (1 + rule.Pct)
	if pos.TrailingStop == 0 || candidate < pos.TrailingStop {
		pos.TrailingStop = candidate
	}
}

// armBreakeven moves the stop-loss to the breakeven level once the
// activation price has been touched, provided that tightens the stop.
func (e *Evaluator) armBreakeven(pos *domain.Position, bar domain.Bar) {
	be := pos.Breakeven
	if be == nil || pos.BreakevenArmed || be.Stop <= 0 {
		return
	}
	if pos.Direction == domain.DirectionLong {
		if bar.High >= be.Activation && (pos.StopLoss == 0 || be.Stop > pos.StopLoss) {
			pos.StopLoss = be.Stop
			pos.BreakevenArmed = true
		}
		return
	}
	if bar.Low <= be.Activation && (pos.StopLoss == 0 || be.Stop < pos.StopLoss) {
		pos.StopLoss = be.Stop
		pos.BreakevenArmed = true
	}
}

func closeSignal(pos *domain.Position, bar domain.Bar, price float64, reason domain.ExitReason) *domain.Signal {
	return &domain.Signal{
		Timestamp: bar.Timestamp,
		Kind:      domain.CloseKind(pos.Direction),
		Price:     price,
		Reason:    reason,
	}
}
