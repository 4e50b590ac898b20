// Package tradelab is the Go SDK for the tradelab backtesting server. It
// defines the JSON wire types shared by the HTTP and gRPC APIs and an HTTP
// client for them.
package tradelab

import "time"

// Bar is a single OHLCV price bar supplied inline with a backtest request.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume,omitempty"`
}

// BacktestRequest asks the server to simulate Strategy on Symbol. Bars, when
// present, are used instead of the server's bar store; otherwise bars are
// read for Market between Start and End inclusive. Zero InitialCapital and
// RiskPerTrade keep the server defaults, and Params are merged over the
// server's strategy parameters.
type BacktestRequest struct {
	Strategy       string         `json:"strategy"`
	Symbol         string         `json:"symbol"`
	Market         string         `json:"market,omitempty"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	Bars           []Bar          `json:"bars,omitempty"`
	InitialCapital float64        `json:"initial_capital,omitempty"`
	RiskPerTrade   float64        `json:"risk_per_trade,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
}

// Trade is one closed position, or closed part of one, in a run's ledger.
type Trade struct {
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Direction    string    `json:"direction"`
	Size         float64   `json:"size"`
	PnL          float64   `json:"pnl"`
	PnLPct       float64   `json:"pnl_pct"`
	Commission   float64   `json:"commission"`
	Slippage     float64   `json:"slippage"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	ExitReason   string    `json:"exit_reason"`
	MAE          float64   `json:"mae"`
	MFE          float64   `json:"mfe"`
	DurationBars int       `json:"duration_bars"`
}

// Run is the summary of a finished backtest.
type Run struct {
	ID             string    `json:"id"`
	Strategy       string    `json:"strategy"`
	Symbol         string    `json:"symbol"`
	Market         string    `json:"market"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	CreatedAt      time.Time `json:"created_at"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	TotalTrades    int       `json:"total_trades"`
	Metrics        Metrics   `json:"metrics"`
	Advanced       Metrics   `json:"advanced,omitempty"`
}

// RunResult is a run together with its trade ledger. Persisted reports
// whether the server stored the run.
type RunResult struct {
	Run       Run     `json:"run"`
	Trades    []Trade `json:"trades"`
	Persisted bool    `json:"persisted"`
}

// StrategyList is the response of the strategy listing endpoints.
type StrategyList struct {
	Strategies []string `json:"strategies"`
}

// RunList is the response of the run listing endpoint.
type RunList struct {
	Runs []Run `json:"runs"`
}

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
}
