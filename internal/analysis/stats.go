package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// mean returns the arithmetic mean of xs, or 0 for an empty slice.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// sampleStd returns the standard deviation with one degree of freedom
// removed. It returns 0 when fewer than two values are given.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}

// popStd returns the population standard deviation.
func popStd(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(xs, nil)
	return std
}

// skewness returns the biased sample skewness m3/m2^1.5. stat.Skew applies
// a small-sample correction, so the moments are taken directly.
func skewness(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return 0
	}
	return stat.Moment(3, xs, nil) / math.Pow(m2, 1.5)
}

// kurtosis returns the biased excess kurtosis m4/m2² − 3.
func kurtosis(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return 0
	}
	return stat.Moment(4, xs, nil)/(m2*m2) - 3
}

// percentile returns the p-th percentile (0..100) using linear
// interpolation between closest ranks. stat.Quantile has no rule matching
// this one, so it is computed here.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := sorted(xs)
	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return s[lo]
	}
	frac := rank - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

func median(xs []float64) float64 {
	return percentile(xs, 50)
}

func sorted(xs []float64) []float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return s
}

// Drawdown returns (equity − running max) / running max for every point of
// equity. Values are ≤ 0 and exactly 0 at new highs.
func Drawdown(equity []float64) []float64 {
	dd := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd[i] = (v - peak) / peak
		}
	}
	return dd
}

// MaxDrawdown returns the most negative drawdown of equity.
func MaxDrawdown(equity []float64) float64 {
	var worst float64
	for _, d := range Drawdown(equity) {
		if d < worst {
			worst = d
		}
	}
	return worst
}

// pctChange returns the simple returns between consecutive points, skipping
// points whose predecessor is zero.
func pctChange(xs []float64) []float64 {
	if len(xs) < 2 {
		return nil
	}
	out := make([]float64, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		if xs[i-1] == 0 {
			continue
		}
		out = append(out, xs[i]/xs[i-1]-1)
	}
	return out
}
