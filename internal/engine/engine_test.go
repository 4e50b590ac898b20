package engine

import (
	"errors"
	"math"
	"testing"

	"tradelab/internal/broker"
	"tradelab/internal/domain"
)

var unit = domain.InstrumentInfo{Symbol: "TEST", Point: 0.01, ContractSize: 1, VolumeMin: 0.01, VolumeMax: 1000, VolumeStep: 0.01}

func newTestEngine(costs broker.CostConfig) *Engine {
	return NewEngine(
		Config{InitialCapital: 10000, Leverage: 100, MarginUsage: 0.9},
		broker.NewSimulatorBroker(costs),
		nil,
		nil,
	)
}

func openLong(t *testing.T, e *Engine, b domain.Bar, size, stop, target float64) {
	t.Helper()
	e.Advance(b)
	err := e.Open(domain.Signal{
		Timestamp:  b.Timestamp,
		Kind:       domain.SignalOpenLong,
		Price:      b.Close,
		StopLoss:   stop,
		TakeProfit: target,
		Size:       size,
	}, unit)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(broker.CostConfig{})
	if e == nil {
		t.Fatal("NewEngine returned nil")
	}
	if e.Balance() != 10000 || e.Equity() != 10000 {
		t.Errorf("Balance/Equity = %v/%v, want 10000/10000", e.Balance(), e.Equity())
	}
	if e.Position() != nil {
		t.Error("new engine has an open position")
	}
}

func TestEngineStopLossScenario(t *testing.T) {
	e := newTestEngine(broker.CostConfig{Commission: 1})
	ev := NewEvaluator()

	openLong(t, e, bar(0, 100, 100, 100, 100), 2, 95, 110)

	next := bar(1, 99, 101, 94, 96)
	e.Advance(next)
	sig := ev.Check(e.Position(), next)
	if sig == nil {
		t.Fatal("expected stop-loss exit")
	}
	trade, err := e.Close(*sig, next)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if trade.ExitPrice != 95 {
		t.Errorf("ExitPrice = %v, want 95", trade.ExitPrice)
	}
	if trade.ExitReason != domain.ExitStopLoss {
		t.Errorf("ExitReason = %q, want stop_loss", trade.ExitReason)
	}
	wantPnL := (95.0-100.0)*2 - 2
	if math.Abs(trade.PnL-wantPnL) > 1e-9 {
		t.Errorf("PnL = %v, want %v", trade.PnL, wantPnL)
	}
	if trade.Commission != 2 {
		t.Errorf("Commission = %v, want 2", trade.Commission)
	}
	if math.Abs(trade.PnLPct-wantPnL/200) > 1e-12 {
		t.Errorf("PnLPct = %v, want %v", trade.PnLPct, wantPnL/200)
	}
	if trade.DurationBars != 2 {
		t.Errorf("DurationBars = %d, want 2", trade.DurationBars)
	}
	if e.Position() != nil {
		t.Error("position still open after close")
	}
	if math.Abs(e.Balance()-(10000+wantPnL)) > 1e-9 || e.Equity() != e.Balance() {
		t.Errorf("Balance/Equity = %v/%v, want %v", e.Balance(), e.Equity(), 10000+wantPnL)
	}
}

func TestEngineSecondEntryIgnored(t *testing.T) {
	e := newTestEngine(broker.CostConfig{})
	openLong(t, e, bar(0, 100, 100, 100, 100), 1, 95, 110)
	first := e.Position()

	err := e.Open(domain.Signal{Kind: domain.SignalOpenShort, Price: 100, Size: 5}, unit)
	if !errors.Is(err, ErrPositionOpen) {
		t.Fatalf("second Open error = %v, want ErrPositionOpen", err)
	}
	if e.Position() != first || e.Position().Direction != domain.DirectionLong || e.Position().Size != 1 {
		t.Errorf("open position changed by ignored entry: %+v", e.Position())
	}
}

func TestEngineMarginRefusal(t *testing.T) {
	e := newTestEngine(broker.CostConfig{})
	b := bar(0, 100, 100, 100, 100)
	e.Advance(b)

	// 100 × 10000 lots × 1 / 100 = 10000 > 9000.
	err := e.Open(domain.Signal{Timestamp: b.Timestamp, Kind: domain.SignalOpenLong, Price: 100, Size: 10000}, unit)
	if !errors.Is(err, ErrInsufficientMargin) {
		t.Fatalf("Open error = %v, want ErrInsufficientMargin", err)
	}
	if e.Position() != nil {
		t.Error("position opened despite margin refusal")
	}
	if e.Balance() != 10000 {
		t.Errorf("Balance = %v, want 10000", e.Balance())
	}
}

func TestEngineRejectsInvalidSignals(t *testing.T) {
	e := newTestEngine(broker.CostConfig{})
	if err := e.Open(domain.Signal{Kind: domain.SignalCloseLong, Price: 100, Size: 1}, unit); !errors.Is(err, ErrInvalidSignal) {
		t.Errorf("Open(CLOSE_LONG) error = %v, want ErrInvalidSignal", err)
	}
	if err := e.Open(domain.Signal{Kind: domain.SignalOpenLong, Price: 100}, unit); !errors.Is(err, ErrInvalidSignal) {
		t.Errorf("Open(size 0) error = %v, want ErrInvalidSignal", err)
	}
	nonFinite := []domain.Signal{
		{Kind: domain.SignalOpenLong, Price: 100, Size: 1, StopLoss: math.NaN()},
		{Kind: domain.SignalOpenLong, Price: 100, Size: 1, StopLoss: 95, TakeProfit: math.Inf(1)},
		{Kind: domain.SignalOpenShort, Price: math.NaN(), Size: 1},
		{Kind: domain.SignalOpenLong, Price: 100, Size: math.Inf(1)},
	}
	for _, sig := range nonFinite {
		if err := e.Open(sig, unit); !errors.Is(err, ErrInvalidSignal) {
			t.Errorf("Open(%+v) error = %v, want ErrInvalidSignal", sig, err)
		}
	}
	if e.Position() != nil {
		t.Fatal("invalid signal opened a position")
	}
	if _, err := e.Close(domain.Signal{Kind: domain.SignalCloseLong, Price: 100}, bar(0, 1, 1, 1, 1)); !errors.Is(err, ErrNoPosition) {
		t.Errorf("Close while flat error = %v, want ErrNoPosition", err)
	}
}

func TestEngineMarkToMarketAndExcursions(t *testing.T) {
	e := newTestEngine(broker.CostConfig{})
	openLong(t, e, bar(0, 100, 100, 100, 100), 1, 0, 0)

	b1 := bar(1, 100, 108, 97, 104)
	e.Advance(b1)
	e.MarkToMarket(b1)
	if e.Equity() != 10004 {
		t.Errorf("Equity = %v, want 10004", e.Equity())
	}
	if e.Balance() != 10000 {
		t.Errorf("Balance = %v, want 10000 while open", e.Balance())
	}

	b2 := bar(2, 104, 106, 102, 105)
	e.Advance(b2)
	trade, err := e.ForceClose(b2)
	if err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	if trade.ExitReason != domain.ExitEndOfData || trade.ExitPrice != 105 {
		t.Errorf("ForceClose trade = %+v, want end_of_data at 105", trade)
	}
	if math.Abs(trade.MAE-(-0.03)) > 1e-12 || math.Abs(trade.MFE-0.08) > 1e-12 {
		t.Errorf("MAE/MFE = %v/%v, want -0.03/0.08", trade.MAE, trade.MFE)
	}
	if trade.DurationBars != 3 {
		t.Errorf("DurationBars = %d, want 3", trade.DurationBars)
	}
}

func TestEngineShortPnLAndSlippage(t *testing.T) {
	e := newTestEngine(broker.CostConfig{SlippagePct: 0.01})
	b0 := bar(0, 100, 100, 100, 100)
	e.Advance(b0)
	if err := e.Open(domain.Signal{Timestamp: b0.Timestamp, Kind: domain.SignalOpenShort, Price: 100, Size: 1}, unit); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := e.Position().EntryPrice; math.Abs(got-99) > 1e-9 {
		t.Fatalf("short EntryPrice = %v, want 99 (sold down)", got)
	}

	b1 := bar(1, 95, 95, 90, 90)
	e.Advance(b1)
	trade, err := e.Close(domain.Signal{Timestamp: b1.Timestamp, Kind: domain.SignalCloseShort, Price: 90}, b1)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Cover pays up: 90 × 1.01 = 90.9.
	if math.Abs(trade.ExitPrice-90.9) > 1e-9 {
		t.Errorf("ExitPrice = %v, want 90.9", trade.ExitPrice)
	}
	if math.Abs(trade.PnL-(99-90.9)) > 1e-9 {
		t.Errorf("PnL = %v, want %v", trade.PnL, 99-90.9)
	}
	if math.Abs(trade.Slippage-0.9) > 1e-9 {
		t.Errorf("Slippage = %v, want 0.9", trade.Slippage)
	}
	if trade.ExitReason != domain.ExitSignal {
		t.Errorf("ExitReason = %q, want signal", trade.ExitReason)
	}
}

func TestEnginePartialClose(t *testing.T) {
	e := newTestEngine(broker.CostConfig{})
	openLong(t, e, bar(0, 100, 100, 100, 100), 1, 95, 120)

	b1 := bar(1, 100, 106, 99, 104)
	e.Advance(b1)
	trade, err := e.Close(domain.Signal{
		Timestamp: b1.Timestamp,
		Kind:      domain.SignalCloseLong,
		Price:     105,
		Size:      0.5,
		Reason:    domain.ExitPartialTakeProfit,
	}, b1)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if trade.Size != 0.5 || trade.PnL != 2.5 {
		t.Errorf("partial trade size/pnl = %v/%v, want 0.5/2.5", trade.Size, trade.PnL)
	}
	pos := e.Position()
	if pos == nil {
		t.Fatal("position closed by partial exit")
	}
	if pos.Size != 0.5 || !pos.PartialTaken {
		t.Errorf("remaining size=%v partialTaken=%v, want 0.5 and true", pos.Size, pos.PartialTaken)
	}
	if e.Balance() != 10002.5 {
		t.Errorf("Balance = %v, want 10002.5", e.Balance())
	}
	if e.Equity() != 10004.5 {
		t.Errorf("Equity = %v, want 10004.5", e.Equity())
	}

	if got := len(e.Trades()); got != 1 {
		t.Errorf("len(Trades) = %d, want 1", got)
	}
}

func TestEnginePartialCloseChargesFixedCommissionOnce(t *testing.T) {
	e := newTestEngine(broker.CostConfig{Commission: 1, CommissionPct: 0.001})
	openLong(t, e, bar(0, 100, 100, 100, 100), 1, 95, 120)

	b1 := bar(1, 100, 106, 99, 104)
	e.Advance(b1)
	first, err := e.Close(domain.Signal{Timestamp: b1.Timestamp, Kind: domain.SignalCloseLong, Price: 105, Size: 0.5}, b1)
	if err != nil {
		t.Fatalf("partial Close: %v", err)
	}
	b2 := bar(2, 104, 104, 102, 102)
	e.Advance(b2)
	second, err := e.ForceClose(b2)
	if err != nil {
		t.Fatalf("ForceClose: %v", err)
	}

	if want := 2 + (100+105)*0.5*0.001; math.Abs(first.Commission-want) > 1e-9 {
		t.Errorf("first leg commission = %v, want %v", first.Commission, want)
	}
	if want := (100 + 102) * 0.5 * 0.001; math.Abs(second.Commission-want) > 1e-9 {
		t.Errorf("second leg commission = %v, want %v", second.Commission, want)
	}

	// A new position pays the fixed part again.
	openLong(t, e, bar(3, 102, 102, 102, 102), 1, 95, 120)
	b4 := bar(4, 102, 103, 101, 103)
	e.Advance(b4)
	third, err := e.ForceClose(b4)
	if err != nil {
		t.Fatalf("ForceClose: %v", err)
	}
	if want := 2 + (102+103)*0.001; math.Abs(third.Commission-want) > 1e-9 {
		t.Errorf("new position commission = %v, want %v", third.Commission, want)
	}
}
