package analysis

import (
	"math"
	"time"

	"tradelab/internal/domain"
)

// Advanced metric keys produced by Analyzer.Metrics.
const (
	SortinoRatio         = "sortino_ratio"
	OmegaRatio           = "omega_ratio"
	TailRatio            = "tail_ratio"
	CommonSenseRatio     = "common_sense_ratio"
	UlcerIndex           = "ulcer_index"
	SerenityIndex        = "serenity_index"
	KellyCriterion       = "kelly_criterion"
	ProfitProbability    = "profit_probability"
	MaxConsecutiveWins   = "max_consecutive_wins"
	MaxConsecutiveLosses = "max_consecutive_losses"
	AvgWinStreak         = "avg_win_streak"
	AvgLossStreak        = "avg_loss_streak"
	AvgWinningDuration   = "avg_winning_duration"
	AvgLosingDuration    = "avg_losing_duration"
	RiskAdjustedReturn   = "risk_adjusted_return"
	VolatilityAnnual     = "volatility_annual"
	DownsideVolatility   = "downside_volatility"
)

// Analyzer derives secondary statistics from a ledger and its equity curve.
// Returns are the bar-to-bar simple returns of the equity curve.
type Analyzer struct {
	trades         []domain.Trade
	equity         []float64
	initialCapital float64
	returns        []float64
}

// NewAnalyzer prepares an analyzer. The inputs are not copied and must not be
// modified while the analyzer is in use.
func NewAnalyzer(trades []domain.Trade, equity []float64, initialCapital float64) *Analyzer {
	return &Analyzer{
		trades:         trades,
		equity:         equity,
		initialCapital: initialCapital,
		returns:        pctChange(equity),
	}
}

// Metrics computes every advanced metric.
func (a *Analyzer) Metrics() Metrics {
	maxWins, maxLosses := a.maxStreaks()
	avgWinStreak, avgLossStreak := a.avgStreaks()
	avgWinDur, avgLossDur := a.avgDurations()

	return Metrics{
		SortinoRatio:         a.sortino(0),
		OmegaRatio:           a.omega(0),
		TailRatio:            a.tailRatio(),
		CommonSenseRatio:     a.tailRatio() - 1,
		UlcerIndex:           a.ulcer(),
		SerenityIndex:        a.serenity(),
		KellyCriterion:       a.kelly(),
		ProfitProbability:    a.profitProbability(),
		MaxConsecutiveWins:   float64(maxWins),
		MaxConsecutiveLosses: float64(maxLosses),
		AvgWinStreak:         avgWinStreak,
		AvgLossStreak:        avgLossStreak,
		AvgWinningDuration:   avgWinDur,
		AvgLosingDuration:    avgLossDur,
		RiskAdjustedReturn:   a.riskAdjustedReturn(),
		VolatilityAnnual:     sampleStd(a.returns) * math.Sqrt(periodsPerYear),
		DownsideVolatility:   a.downsideVolatility(),
	}
}

// sortino is +Inf when no return falls below target and 0 when the downside
// deviation cannot be estimated.
func (a *Analyzer) sortino(target float64) float64 {
	if len(a.returns) == 0 {
		return 0
	}
	excess := make([]float64, len(a.returns))
	var downside []float64
	for i, r := range a.returns {
		excess[i] = r - target
		if excess[i] < 0 {
			downside = append(downside, excess[i])
		}
	}
	if len(downside) == 0 {
		return math.Inf(1)
	}
	sd := sampleStd(downside)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(periodsPerYear)
}

func (a *Analyzer) omega(threshold float64) float64 {
	if len(a.returns) == 0 {
		return 0
	}
	var gains, losses float64
	for _, r := range a.returns {
		switch d := r - threshold; {
		case d > 0:
			gains += d
		case d < 0:
			losses -= d
		}
	}
	if losses == 0 {
		if gains > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gains / losses
}

// tailRatio is |p95 / p5| of returns.
func (a *Analyzer) tailRatio() float64 {
	if len(a.returns) == 0 {
		return 0
	}
	p5 := percentile(a.returns, 5)
	if p5 == 0 {
		return 0
	}
	return math.Abs(percentile(a.returns, 95) / p5)
}

// ulcer is the root mean square of percentage drawdowns.
func (a *Analyzer) ulcer() float64 {
	if len(a.equity) == 0 {
		return 0
	}
	var ss float64
	dd := Drawdown(a.equity)
	for _, d := range dd {
		ss += (d * 100) * (d * 100)
	}
	return math.Sqrt(ss / float64(len(dd)))
}

// totalReturn is the fractional change over the curve, measured from its
// first point or from the initial capital when the curve starts at zero.
func (a *Analyzer) totalReturn() float64 {
	if len(a.equity) < 2 {
		return 0
	}
	base := a.equity[0]
	if base == 0 {
		base = a.initialCapital
	}
	if base == 0 {
		return 0
	}
	return a.equity[len(a.equity)-1]/base - 1
}

func (a *Analyzer) serenity() float64 {
	u := a.ulcer()
	if u == 0 {
		return 0
	}
	return a.totalReturn() * 100 / u
}

// kelly is clamped to [0, 1] and 0 unless there are both winners and losers.
func (a *Analyzer) kelly() float64 {
	var wins, losses []float64
	for _, t := range a.trades {
		switch {
		case t.PnL > 0:
			wins = append(wins, t.PnL)
		case t.PnL < 0:
			losses = append(losses, -t.PnL)
		}
	}
	if len(wins) == 0 || len(losses) == 0 {
		return 0
	}
	avgLoss := mean(losses)
	if avgLoss == 0 {
		return 0
	}
	p := float64(len(wins)) / float64(len(a.trades))
	ratio := mean(wins) / avgLoss
	k := (p*ratio - (1 - p)) / ratio
	return math.Max(0, math.Min(k, 1))
}

func (a *Analyzer) profitProbability() float64 {
	if len(a.trades) == 0 {
		return 0
	}
	var wins int
	for _, t := range a.trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(a.trades))
}

// streaks returns the lengths of consecutive winning and losing runs in
// ledger order. A trade with pnl ≤ 0 counts as a loss.
func (a *Analyzer) streaks() (wins, losses []float64) {
	var run int
	var winning bool
	flush := func() {
		if run == 0 {
			return
		}
		if winning {
			wins = append(wins, float64(run))
		} else {
			losses = append(losses, float64(run))
		}
	}
	for i, t := range a.trades {
		w := t.PnL > 0
		if i > 0 && w != winning {
			flush()
			run = 0
		}
		winning = w
		run++
	}
	flush()
	return wins, losses
}

func (a *Analyzer) maxStreaks() (maxWins, maxLosses int) {
	wins, losses := a.streaks()
	for _, w := range wins {
		maxWins = max(maxWins, int(w))
	}
	for _, l := range losses {
		maxLosses = max(maxLosses, int(l))
	}
	return maxWins, maxLosses
}

func (a *Analyzer) avgStreaks() (float64, float64) {
	wins, losses := a.streaks()
	return mean(wins), mean(losses)
}

func (a *Analyzer) avgDurations() (float64, float64) {
	var win, loss []float64
	for _, t := range a.trades {
		if t.PnL > 0 {
			win = append(win, float64(t.DurationBars))
		} else {
			loss = append(loss, float64(t.DurationBars))
		}
	}
	return mean(win), mean(loss)
}

func (a *Analyzer) riskAdjustedReturn() float64 {
	vol := sampleStd(a.returns)
	if vol == 0 {
		return 0
	}
	return a.totalReturn() / vol
}

func (a *Analyzer) downsideVolatility() float64 {
	var neg []float64
	for _, r := range a.returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	return sampleStd(neg) * math.Sqrt(periodsPerYear)
}

// ----------------------------------------------------------------------------
// Time buckets
// ----------------------------------------------------------------------------

// Bucket aggregates trade pnl for one time bucket.
type Bucket struct {
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// TimeBreakdown groups trades by the hour, weekday and month of their entry.
// Weekdays are numbered from Monday = 0; months from January = 1.
type TimeBreakdown struct {
	ByHour    map[int]Bucket `json:"by_hour"`
	ByWeekday map[int]Bucket `json:"by_day_of_week"`
	ByMonth   map[int]Bucket `json:"by_month"`
}

// ByTime buckets the ledger by entry time. It returns nil for an empty
// ledger.
func (a *Analyzer) ByTime() *TimeBreakdown {
	if len(a.trades) == 0 {
		return nil
	}
	tb := &TimeBreakdown{
		ByHour:    map[int]Bucket{},
		ByWeekday: map[int]Bucket{},
		ByMonth:   map[int]Bucket{},
	}
	for _, t := range a.trades {
		addToBucket(tb.ByHour, t.EntryTime.Hour(), t.PnL)
		addToBucket(tb.ByWeekday, mondayFirst(t.EntryTime.Weekday()), t.PnL)
		addToBucket(tb.ByMonth, int(t.EntryTime.Month()), t.PnL)
	}
	return tb
}

func addToBucket(m map[int]Bucket, key int, pnl float64) {
	b := m[key]
	b.Sum += pnl
	b.Count++
	b.Mean = b.Sum / float64(b.Count)
	m[key] = b
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ----------------------------------------------------------------------------
// Descriptive statistics
// ----------------------------------------------------------------------------

// TradeStatistics returns descriptive statistics of trade pnl and pnl_pct.
// Standard deviations are population values; skew and kurtosis are the
// biased estimators, kurtosis in excess form. It returns nil for an empty
// ledger.
func (a *Analyzer) TradeStatistics() Metrics {
	if len(a.trades) == 0 {
		return nil
	}
	pnls := make([]float64, len(a.trades))
	pcts := make([]float64, len(a.trades))
	for i, t := range a.trades {
		pnls[i] = t.PnL
		pcts[i] = t.PnLPct
	}
	s := sorted(pnls)
	lo, hi := s[0], s[len(s)-1]
	return Metrics{
		"pnl_mean":       mean(pnls),
		"pnl_median":     median(pnls),
		"pnl_std":        popStd(pnls),
		"pnl_skew":       skewness(pnls),
		"pnl_kurtosis":   kurtosis(pnls),
		"pnl_pct_mean":   mean(pcts),
		"pnl_pct_median": median(pcts),
		"pnl_pct_std":    popStd(pcts),
		"pnl_min":        lo,
		"pnl_max":        hi,
		"pnl_range":      hi - lo,
	}
}
