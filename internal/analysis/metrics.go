// Package analysis computes performance statistics from a finished
// simulation: the trade ledger and the equity curve.
package analysis

import (
	"math"

	"tradelab/internal/domain"
	"tradelab/pkg/tradelab"
)

// Metric keys produced by Calculate.
const (
	TotalTrades     = "total_trades"
	WinningTrades   = "winning_trades"
	LosingTrades    = "losing_trades"
	WinRate         = "win_rate"
	TotalPnL        = "total_pnl"
	GrossProfit     = "gross_profit"
	GrossLoss       = "gross_loss"
	ProfitFactor    = "profit_factor"
	AvgWin          = "avg_win"
	AvgLoss         = "avg_loss"
	Expectancy      = "expectancy"
	AvgRiskReward   = "avg_risk_reward"
	SharpeRatio     = "sharpe_ratio"
	MaxDrawdownKey  = "max_drawdown"
	RecoveryFactor  = "recovery_factor"
	CalmarRatio     = "calmar_ratio"
	AvgMAE          = "avg_mae"
	AvgMFE          = "avg_mfe"
	AvgDurationBars = "avg_duration_bars"
	TotalCommission = "total_commission"
	TotalSlippage   = "total_slippage"
)

// DefaultRiskFree is the annual risk-free rate used when none is configured.
const DefaultRiskFree = 0.02

const periodsPerYear = 252

// Metrics maps metric names to values. Infinite values are legitimate (for
// example profit_factor without losing trades) and survive JSON encoding in
// the wire form of tradelab.Metrics.
type Metrics map[string]float64

// Keys returns the metric names in sorted order.
func (m Metrics) Keys() []string {
	return tradelab.Metrics(m).Keys()
}

// MarshalJSON encodes non-finite values as strings.
func (m Metrics) MarshalJSON() ([]byte, error) {
	return tradelab.Metrics(m).MarshalJSON()
}

// UnmarshalJSON accepts numbers and the strings written by MarshalJSON.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var wire tradelab.Metrics
	if err := wire.UnmarshalJSON(data); err != nil {
		return err
	}
	*m = Metrics(wire)
	return nil
}

// Input is the finished state of a simulation run.
type Input struct {
	Trades         []domain.Trade
	Equity         []float64
	Balance        []float64
	InitialCapital float64
	// RiskFreeRate is annual; zero means DefaultRiskFree.
	RiskFreeRate float64
}

// Calculate returns the core performance metrics of in. An empty ledger
// yields only total_trades = 0. The result depends only on in, so repeated
// calls on the same input are identical.
func Calculate(in Input) Metrics {
	trades := in.Trades
	if len(trades) == 0 {
		return Metrics{TotalTrades: 0}
	}

	var (
		wins, losses           int
		grossProfit, grossLoss float64
		totalPnL               float64
		commission, slippage   float64
		maes, mfes, durations  []float64
	)
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		totalPnL += t.PnL
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			losses++
			grossLoss += t.PnL
		}
		commission += t.Commission
		slippage += t.Slippage
		maes = append(maes, t.MAE)
		mfes = append(mfes, t.MFE)
		durations = append(durations, float64(t.DurationBars))
		returns = append(returns, t.PnLPct)
	}
	grossLoss = math.Abs(grossLoss)

	n := float64(len(trades))
	winRate := float64(wins) / n

	profitFactor := math.Inf(1)
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	}

	var avgWin, avgLoss float64
	if wins > 0 {
		avgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		avgLoss = grossLoss / float64(losses)
	}
	var riskReward float64
	if avgLoss > 0 {
		riskReward = avgWin / avgLoss
	}

	maxDD := MaxDrawdown(in.Equity)

	var recovery, calmar float64
	if maxDD != 0 {
		recovery = totalPnL / math.Abs(maxDD*in.InitialCapital)
		final := in.InitialCapital
		if len(in.Equity) > 0 {
			final = in.Equity[len(in.Equity)-1]
		}
		if in.InitialCapital != 0 {
			calmar = (final/in.InitialCapital - 1) / math.Abs(maxDD)
		}
	}

	return Metrics{
		TotalTrades:     n,
		WinningTrades:   float64(wins),
		LosingTrades:    float64(losses),
		WinRate:         winRate,
		TotalPnL:        totalPnL,
		GrossProfit:     grossProfit,
		GrossLoss:       grossLoss,
		ProfitFactor:    profitFactor,
		AvgWin:          avgWin,
		AvgLoss:         avgLoss,
		Expectancy:      winRate*avgWin - (1-winRate)*avgLoss,
		AvgRiskReward:   riskReward,
		SharpeRatio:     sharpe(returns, in.RiskFreeRate),
		MaxDrawdownKey:  maxDD,
		RecoveryFactor:  recovery,
		CalmarRatio:     calmar,
		AvgMAE:          mean(maes),
		AvgMFE:          mean(mfes),
		AvgDurationBars: mean(durations),
		TotalCommission: commission,
		TotalSlippage:   slippage,
	}
}

// sharpe annualises the mean excess per-trade return over its sample
// standard deviation. It is 0 when the deviation is 0 or undefined.
func sharpe(returns []float64, riskFree float64) float64 {
	if riskFree == 0 {
		riskFree = DefaultRiskFree
	}
	perPeriod := riskFree / periodsPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - perPeriod
	}
	sd := sampleStd(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(periodsPerYear)
}
