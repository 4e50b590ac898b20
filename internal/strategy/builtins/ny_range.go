package builtins

import (
	"fmt"
	"log/slog"
	"math"
	"time"
	_ "time/tzdata"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*NYRange)(nil)

// Indicator names produced by NYRange.
const (
	IndRangeHigh = "range_high"
	IndRangeLow  = "range_low"
	IndRangePips = "range_pips"
)

// NYRange trades the breakout of a short opening range measured each day in
// New York time. The range is the high and low of bars between RangeStart and
// RangeEnd; after RangeEnd, the first bar that crosses the range high enters
// long at the range high, and the first that crosses the range low enters
// short at the range low. Stops, targets and the optional partial
// take-profit, breakeven and trailing rules are all set in pips.
type NYRange struct {
	strategy.Base

	Location   *time.Location
	RangeStart time.Duration // offset from local midnight
	RangeEnd   time.Duration

	PipValue       float64
	StopLossPips   float64
	TakeProfitPips float64

	UsePartialTP      bool
	PartialTPPips     float64
	PartialTPFraction float64

	UseBreakeven            bool
	BreakevenActivationPips float64
	BreakevenOffsetPips     float64

	UseTrailingStop        bool
	TrailingStopPips       float64
	TrailingActivationPips float64

	MinRangePips     float64
	MaxRangePips     float64
	MinATRMultiplier float64
	ATRPeriod        int
	MaxTradesPerDay  int
}

// NewNYRange creates an NYRange. Recognised params and defaults: timezone
// ("America/New_York"), range_start ("21:50"), range_end ("22:15"),
// pip_value (0.10), stop_loss_pips (34), take_profit_pips (83),
// use_partial_tp (true), partial_tp_pips (50), partial_tp_percent (50),
// use_breakeven (true), breakeven_activation_pips (40),
// breakeven_offset_pips (5), use_trailing_stop (true),
// trailing_stop_pips (25), trailing_activation_pips (45),
// min_range_pips (5), max_range_pips (40), min_atr_multiplier (1.2),
// atr_period (14), max_trades_per_day (1).
func NewNYRange(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (*NYRange, error) {
	loc, err := time.LoadLocation(p.String("timezone", "America/New_York"))
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	start, err := parseClock(p.String("range_start", "21:50"))
	if err != nil {
		return nil, fmt.Errorf("range_start: %w", err)
	}
	end, err := parseClock(p.String("range_end", "22:15"))
	if err != nil {
		return nil, fmt.Errorf("range_end: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("range_end %s must follow range_start %s", end, start)
	}

	// Trailing is driven by the pip-based rule on each signal.
	risk.UseTrailingStop = false
	s := &NYRange{
		Base:                    strategy.NewBase(risk, log),
		Location:                loc,
		RangeStart:              start,
		RangeEnd:                end,
		PipValue:                p.Float("pip_value", 0.10),
		StopLossPips:            p.Float("stop_loss_pips", 34),
		TakeProfitPips:          p.Float("take_profit_pips", 83),
		UsePartialTP:            p.Bool("use_partial_tp", true),
		PartialTPPips:           p.Float("partial_tp_pips", 50),
		PartialTPFraction:       p.Float("partial_tp_percent", 50) / 100,
		UseBreakeven:            p.Bool("use_breakeven", true),
		BreakevenActivationPips: p.Float("breakeven_activation_pips", 40),
		BreakevenOffsetPips:     p.Float("breakeven_offset_pips", 5),
		UseTrailingStop:         p.Bool("use_trailing_stop", true),
		TrailingStopPips:        p.Float("trailing_stop_pips", 25),
		TrailingActivationPips:  p.Float("trailing_activation_pips", 45),
		MinRangePips:            p.Float("min_range_pips", 5),
		MaxRangePips:            p.Float("max_range_pips", 40),
		MinATRMultiplier:        p.Float("min_atr_multiplier", 1.2),
		ATRPeriod:               p.Int("atr_period", 14),
		MaxTradesPerDay:         p.Int("max_trades_per_day", 1),
	}
	if s.PipValue <= 0 {
		return nil, fmt.Errorf("pip_value %v must be positive", s.PipValue)
	}
	if s.ATRPeriod <= 0 {
		return nil, fmt.Errorf("atr_period %d must be positive", s.ATRPeriod)
	}
	return s, nil
}

// Name returns "ny_range".
func (s *NYRange) Name() string { return NameNYRange }

type localDay struct {
	year  int
	month time.Month
	day   int
}

func (s *NYRange) local(t time.Time) (localDay, time.Duration) {
	lt := t.In(s.Location)
	y, m, d := lt.Date()
	hh, mm, ss := lt.Clock()
	tod := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute +
		time.Duration(ss)*time.Second + time.Duration(lt.Nanosecond())
	return localDay{y, m, d}, tod
}

// CalculateIndicators computes ATR and, for every bar, the opening range of
// its local day. Days without range bars have NaN range values.
func (s *NYRange) CalculateIndicators(bars []domain.Bar) (*strategy.Frame, error) {
	type extent struct{ high, low float64 }
	ranges := make(map[localDay]extent)
	for _, b := range bars {
		day, tod := s.local(b.Timestamp)
		if tod < s.RangeStart || tod > s.RangeEnd {
			continue
		}
		r, ok := ranges[day]
		if !ok {
			r = extent{high: b.High, low: b.Low}
		}
		r.high = math.Max(r.high, b.High)
		r.low = math.Min(r.low, b.Low)
		ranges[day] = r
	}

	n := len(bars)
	high, low, pips := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, b := range bars {
		day, _ := s.local(b.Timestamp)
		r, ok := ranges[day]
		if !ok {
			high[i], low[i], pips[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		high[i], low[i] = r.high, r.low
		pips[i] = (r.high - r.low) / s.PipValue
	}

	f := strategy.NewFrame(bars)
	f.Set(IndATR, strategy.ATR(bars, s.ATRPeriod))
	f.Set(IndRangeHigh, high)
	f.Set(IndRangeLow, low)
	f.Set(IndRangePips, pips)
	return f, nil
}

// GenerateSignals emits at most MaxTradesPerDay breakout entries per local
// day, only for bars after the range has closed and only when the range
// passes the size and volatility filters.
func (s *NYRange) GenerateSignals(f *strategy.Frame) ([]domain.Signal, error) {
	var signals []domain.Signal
	perDay := make(map[localDay]int)
	for i := 1; i < f.Len(); i++ {
		bar, prev := f.Bars[i], f.Bars[i-1]
		day, tod := s.local(bar.Timestamp)
		if tod <= s.RangeEnd {
			continue
		}
		rh, rl, rp := f.Value(IndRangeHigh, i), f.Value(IndRangeLow, i), f.Value(IndRangePips, i)
		if math.IsNaN(rh) || math.IsNaN(rl) {
			continue
		}
		if perDay[day] >= s.MaxTradesPerDay {
			continue
		}
		if rp < s.MinRangePips || rp > s.MaxRangePips {
			continue
		}
		atrPips := f.Value(IndATR, i) / s.PipValue
		if !math.IsNaN(atrPips) && atrPips < rp*s.MinATRMultiplier {
			continue
		}

		var kind domain.SignalKind
		var entry float64
		switch {
		case prev.High < rh && bar.High >= rh:
			kind, entry = domain.SignalOpenLong, rh
		case prev.Low >= rl && bar.Low < rl:
			kind, entry = domain.SignalOpenShort, rl
		default:
			continue
		}

		sig := s.entrySignal(bar, kind, entry)
		sig.Metadata = map[string]any{
			IndRangeHigh: rh,
			IndRangeLow:  rl,
			IndRangePips: rp,
			"atr_pips":   atrPips,
		}
		signals = append(signals, sig)
		perDay[day]++
	}
	return signals, nil
}

// entrySignal places the stop, target and position-management rules at pip
// offsets from entry, on the side given by kind.
func (s *NYRange) entrySignal(bar domain.Bar, kind domain.SignalKind, entry float64) domain.Signal {
	dir := 1.0
	if kind == domain.SignalOpenShort {
		dir = -1
	}
	at := func(pips float64) float64 { return entry + dir*pips*s.PipValue }

	sig := domain.Signal{
		Timestamp:  bar.Timestamp,
		Kind:       kind,
		Price:      entry,
		StopLoss:   at(-s.StopLossPips),
		TakeProfit: at(s.TakeProfitPips),
	}
	if s.UsePartialTP && s.PartialTPFraction > 0 {
		sig.PartialTP = &domain.PartialTakeProfit{
			Price:    at(s.PartialTPPips),
			Fraction: s.PartialTPFraction,
		}
	}
	if s.UseBreakeven {
		sig.Breakeven = &domain.Breakeven{
			Activation: at(s.BreakevenActivationPips),
			Stop:       at(s.BreakevenOffsetPips),
		}
	}
	if s.UseTrailingStop {
		sig.Trailing = &domain.TrailingRule{
			Pct:        s.TrailingStopPips * s.PipValue / 100,
			Activation: at(s.TrailingActivationPips),
		}
	}
	return sig
}

// parseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func parseClock(v string) (time.Duration, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, v)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", v)
}
