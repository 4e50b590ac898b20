package strategy

import (
	"math"

	"tradelab/internal/domain"
)

// Indicator helpers. Every series is aligned to its input and holds NaN
// where the look-back window is not yet full.

// SMA returns the simple moving average of xs over period values.
func SMA(xs []float64, period int) []float64 {
	out := nanSeries(len(xs))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, x := range xs {
		sum += x
		if i >= period {
			sum -= xs[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the recursive exponential moving average with smoothing
// 2/(period+1), seeded with the first value. It has no warm-up gap.
func EMA(xs []float64, period int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index using simple moving averages of
// gains and losses over the last period price changes, so the first value
// appears at index period. A window with gains and no losses yields 100; a
// flat window yields NaN.
func RSI(closes []float64, period int) []float64 {
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}
	avgGain := SMA(gains, period)
	avgLoss := SMA(losses, period)

	out := nanSeries(len(closes))
	for i := period; i < len(out); i++ {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
		case l == 0 && g == 0:
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

// TrueRange returns max(high−low, |high−prev close|, |low−prev close|) per
// bar; the first bar uses high−low.
func TrueRange(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR returns the simple moving average of the true range.
func ATR(bars []domain.Bar, period int) []float64 {
	return SMA(TrueRange(bars), period)
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
