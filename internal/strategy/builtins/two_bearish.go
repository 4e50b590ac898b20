package builtins

import (
	"fmt"
	"log/slog"
	"math"

	"tradelab/internal/domain"
	"tradelab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*TwoBearish)(nil)

// Indicator names produced by TwoBearish.
const (
	IndBody       = "body"
	IndCandleType = "candle_type"
)

// TwoBearish is a long-only reversal pattern: two bearish bars followed by a
// bullish bar whose body is at least MinBodyRatio times the second bearish
// body. It enters at the bullish close with the stop at the second bearish
// bar's low and the target at RiskReward times the risk.
type TwoBearish struct {
	strategy.Base

	RiskReward   float64
	MinBodyRatio float64

	log *slog.Logger
}

// NewTwoBearish creates a TwoBearish. Recognised params: risk_reward_ratio
// (2.0), min_body_ratio (1.0), use_trailing_stop (false).
func NewTwoBearish(risk strategy.RiskParams, p strategy.Params, log *slog.Logger) (*TwoBearish, error) {
	risk.UseTrailingStop = p.Bool("use_trailing_stop", false)
	s := &TwoBearish{
		Base:         strategy.NewBase(risk, log),
		RiskReward:   p.Float("risk_reward_ratio", 2.0),
		MinBodyRatio: p.Float("min_body_ratio", 1.0),
		log:          log,
	}
	if s.RiskReward <= 0 {
		return nil, fmt.Errorf("risk_reward_ratio %v must be positive", s.RiskReward)
	}
	return s, nil
}

// Name returns "two_bearish".
func (s *TwoBearish) Name() string { return NameTwoBearish }

// CalculateIndicators computes the candle body and its direction: 1 for
// bullish, -1 for bearish, 0 for doji.
func (s *TwoBearish) CalculateIndicators(bars []domain.Bar) (*strategy.Frame, error) {
	f := strategy.NewFrame(bars)
	body := make([]float64, len(bars))
	kind := make([]float64, len(bars))
	for i, b := range bars {
		body[i] = math.Abs(b.Close - b.Open)
		switch {
		case b.Close > b.Open:
			kind[i] = 1
		case b.Close < b.Open:
			kind[i] = -1
		}
	}
	f.Set(IndBody, body)
	f.Set(IndCandleType, kind)
	return f, nil
}

func (s *TwoBearish) pattern(f *strategy.Frame, i int) bool {
	if i < 2 {
		return false
	}
	if f.Value(IndCandleType, i-2) != -1 || f.Value(IndCandleType, i-1) != -1 || f.Value(IndCandleType, i) != 1 {
		return false
	}
	second := f.Value(IndBody, i-1)
	if second == 0 {
		return false
	}
	return f.Value(IndBody, i)/second >= s.MinBodyRatio
}

// GenerateSignals emits a long entry at the close of every pattern bar with
// a positive risk.
func (s *TwoBearish) GenerateSignals(f *strategy.Frame) ([]domain.Signal, error) {
	var signals []domain.Signal
	for i := 2; i < f.Len(); i++ {
		if !s.pattern(f, i) {
			continue
		}
		bullish, second := f.Bars[i], f.Bars[i-1]
		entry, stop := bullish.Close, second.Low
		risk := entry - stop
		if risk <= 0 {
			s.log.Warn("pattern skipped, stop not below entry",
				"time", bullish.Timestamp, "entry", entry, "stop", stop)
			continue
		}
		reward := risk * s.RiskReward
		signals = append(signals, domain.Signal{
			Timestamp:  bullish.Timestamp,
			Kind:       domain.SignalOpenLong,
			Price:      entry,
			StopLoss:   stop,
			TakeProfit: entry + reward,
			Metadata: map[string]any{
				"pattern":             "two_bearish_reversal",
				"bullish_body":        f.Value(IndBody, i),
				"second_bearish_body": f.Value(IndBody, i-1),
				"first_bearish_body":  f.Value(IndBody, i-2),
				"body_ratio":          f.Value(IndBody, i) / f.Value(IndBody, i-1),
				"risk":                risk,
				"reward":              reward,
			},
		})
	}
	return signals, nil
}
