package strategy

import (
	"math"
	"testing"

	"tradelab/internal/domain"
)

var unit = domain.InstrumentInfo{Symbol: "TEST", Point: 0.01, ContractSize: 1, VolumeMin: 0.01, VolumeMax: 1000, VolumeStep: 0.01}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestBaseManageRisk(t *testing.T) {
	base := NewBase(DefaultRiskParams(), nil)
	noTrail := DefaultRiskParams()
	noTrail.UseTrailingStop = false

	tests := []struct {
		name       string
		base       Base
		sig        domain.Signal
		wantPrice  float64
		wantStop   float64
		wantTarget float64
		wantSize   float64
		wantTrail  float64
	}{
		{
			name:       "long with atr",
			base:       base,
			sig:        domain.Signal{Kind: domain.SignalOpenLong, Price: 100, Metadata: map[string]any{MetaATR: 2.0}},
			wantPrice:  100,
			wantStop:   96,
			wantTarget: 108,
			wantSize:   50,
			wantTrail:  0.02,
		},
		{
			name:       "short fixed pct",
			base:       base,
			sig:        domain.Signal{Kind: domain.SignalOpenShort, Price: 100},
			wantPrice:  100,
			wantStop:   102,
			wantTarget: 96,
			wantSize:   100,
			wantTrail:  0.02,
		},
		{
			name:       "price falls back to bar close",
			base:       NewBase(noTrail, nil),
			sig:        domain.Signal{Kind: domain.SignalOpenLong},
			wantPrice:  50,
			wantStop:   49,
			wantTarget: 52,
			wantSize:   200,
		},
		{
			name:       "explicit levels and managed size kept",
			base:       base,
			sig:        domain.Signal{Kind: domain.SignalOpenLong, Price: 100, StopLoss: 90, TakeProfit: 130, Size: 3, ManagedSize: true},
			wantPrice:  100,
			wantStop:   90,
			wantTarget: 130,
			wantSize:   3,
			wantTrail:  0.02,
		},
		{
			name:       "explicit trailing rule kept",
			base:       base,
			sig:        domain.Signal{Kind: domain.SignalOpenLong, Price: 100, StopLoss: 95, Trailing: &domain.TrailingRule{Pct: 0.05}},
			wantPrice:  100,
			wantStop:   95,
			wantTarget: 110,
			wantSize:   40,
			wantTrail:  0.05,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.base.ManageRisk(tc.sig, 50, 10000, unit)
			if !near(got.Price, tc.wantPrice) {
				t.Errorf("Price = %v, want %v", got.Price, tc.wantPrice)
			}
			if !near(got.StopLoss, tc.wantStop) {
				t.Errorf("StopLoss = %v, want %v", got.StopLoss, tc.wantStop)
			}
			if !near(got.TakeProfit, tc.wantTarget) {
				t.Errorf("TakeProfit = %v, want %v", got.TakeProfit, tc.wantTarget)
			}
			if !near(got.Size, tc.wantSize) {
				t.Errorf("Size = %v, want %v", got.Size, tc.wantSize)
			}
			switch {
			case tc.wantTrail == 0 && got.Trailing != nil:
				t.Errorf("Trailing = %+v, want nil", got.Trailing)
			case tc.wantTrail != 0 && (got.Trailing == nil || !near(got.Trailing.Pct, tc.wantTrail)):
				t.Errorf("Trailing = %+v, want pct %v", got.Trailing, tc.wantTrail)
			}
		})
	}
}

func TestBaseManageRiskDoesNotMutateInput(t *testing.T) {
	sig := domain.Signal{Kind: domain.SignalOpenLong, Price: 100}
	_ = NewBase(DefaultRiskParams(), nil).ManageRisk(sig, 100, 10000, unit)
	if sig.StopLoss != 0 || sig.Size != 0 || sig.Trailing != nil {
		t.Errorf("input signal modified: %+v", sig)
	}
}

func TestZeroBaseManageRisk(t *testing.T) {
	var b Base
	got := b.ManageRisk(domain.Signal{Kind: domain.SignalOpenLong, Price: 100}, 100, 10000, unit)
	// A zero fixed stop gives zero distance and the minimum volume.
	if got.Size != unit.VolumeMin {
		t.Errorf("Size = %v, want %v", got.Size, unit.VolumeMin)
	}
	if got.Trailing != nil {
		t.Errorf("Trailing = %+v, want nil", got.Trailing)
	}
}
