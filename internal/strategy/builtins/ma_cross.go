package builtins

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MACross)(nil)

// Indicator names produced by MACross.
const (
	IndFastMA = "fast_ma"
	IndSlowMA = "slow_ma"
	IndRSI    = "rsi"
	IndATR    = "atr"
)

// MACross implements a moving average crossover strategy with an RSI
// filter. It goes long when the fast average crosses above the slow one and
// RSI is below the overbought level, and short on the opposite cross with
// RSI above the oversold level. Stops sit ATR×multiplier from the close.
type MACross struct {
	strategy.Base

	FastPeriod        int
	SlowPeriod        int
	UseEMA            bool
	RSIPeriod         int
	RSIOverbought     float64
	RSIOversold       float64
	ATRPeriod         int
	ATRStopMultiplier float64
	RiskReward        float64
}

// NewMACross creates an MACross. Recognised params: fast_period (10),
// slow_period (30), ma_type ("EMA" or "SMA"), rsi_period (14),
// rsi_overbought (70), rsi_oversold (30), atr_period (14),
// atr_stop_multiplier (2.0), risk_reward_ratio (2.5).
func NewMACross(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (*MACross, error) {
	s := &MACross{
		Base:              strategy.NewBase(risk, log),
		FastPeriod:        p.Int("fast_period", 10),
		SlowPeriod:        p.Int("slow_period", 30),
		RSIPeriod:         p.Int("rsi_period", 14),
		RSIOverbought:     p.Float("rsi_overbought", 70),
		RSIOversold:       p.Float("rsi_oversold", 30),
		ATRPeriod:         p.Int("atr_period", 14),
		ATRStopMultiplier: p.Float("atr_stop_multiplier", 2.0),
		RiskReward:        p.Float("risk_reward_ratio", 2.5),
	}
	switch t := strings.ToUpper(p.String("ma_type", "EMA")); t {
	case "EMA":
		s.UseEMA = true
	case "SMA":
	default:
		return nil, fmt.Errorf("ma_type %q: want EMA or SMA", t)
	}
	if s.FastPeriod <= 0 || s.SlowPeriod <= 0 || s.RSIPeriod <= 0 || s.ATRPeriod <= 0 {
		return nil, fmt.Errorf("periods must be positive")
	}
	if s.FastPeriod >= s.SlowPeriod {
		return nil, fmt.Errorf("fast_period %d must be below slow_period %d", s.FastPeriod, s.SlowPeriod)
	}
	s.Base.Risk.ATRStopMultiplier = s.ATRStopMultiplier
	s.Base.Risk.RiskReward = s.RiskReward
	return s, nil
}

// Name returns "ma_cross".
func (s *MACross) Name() string { return NameMACross }

// CalculateIndicators computes the two moving averages, RSI and ATR.
func (s *MACross) CalculateIndicators(bars []domain.Bar) (*strategy.Frame, error) {
	f := strategy.NewFrame(bars)
	closes := f.Closes()
	ma := strategy.SMA
	if s.UseEMA {
		ma = strategy.EMA
	}
	f.Set(IndFastMA, ma(closes, s.FastPeriod))
	f.Set(IndSlowMA, ma(closes, s.SlowPeriod))
	f.Set(IndRSI, strategy.RSI(closes, s.RSIPeriod))
	f.Set(IndATR, strategy.ATR(bars, s.ATRPeriod))
	return f, nil
}

// GenerateSignals emits an entry at the close of every filtered crossover
// bar.
func (s *MACross) GenerateSignals(f *strategy.Frame) ([]domain.Signal, error) {
	var signals []domain.Signal
	for i := 1; i < f.Len(); i++ {
		fast, slow, rsi := f.Value(IndFastMA, i), f.Value(IndSlowMA, i), f.Value(IndRSI, i)
		if math.IsNaN(fast) || math.IsNaN(slow) || math.IsNaN(rsi) {
			continue
		}
		prevFast, prevSlow := f.Value(IndFastMA, i-1), f.Value(IndSlowMA, i-1)

		var kind domain.SignalKind
		switch {
		case prevFast <= prevSlow && fast > slow && rsi < s.RSIOverbought:
			kind = domain.SignalOpenLong
		case prevFast >= prevSlow && fast < slow && rsi > s.RSIOversold:
			kind = domain.SignalOpenShort
		default:
			continue
		}

		bar := f.Bars[i]
		atr := f.Value(IndATR, i)
		if math.IsNaN(atr) {
			atr = bar.Close * 0.02
		}
		dist := atr * s.ATRStopMultiplier
		stop, target := bar.Close-dist, bar.Close+dist*s.RiskReward
		if kind == domain.SignalOpenShort {
			stop, target = bar.Close+dist, bar.Close-dist*s.RiskReward
		}

		signals = append(signals, domain.Signal{
			Timestamp:  bar.Timestamp,
			Kind:       kind,
			Price:      bar.Close,
			StopLoss:   stop,
			TakeProfit: target,
			Metadata: map[string]any{
				IndFastMA: fast,
				IndSlowMA: slow,
				IndRSI:    rsi,
				IndATR:    atr,
			},
		})
	}
	return signals, nil
}
