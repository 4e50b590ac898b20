package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"tradelab/internal/domain"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) domain.Bar {
	return domain.Bar{
		Symbol:    "TEST",
		Timestamp: t0.Add(time.Duration(i) * time.Hour),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
	}
}

// flatBars returns n bars at price with a one-point range.
func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = bar(i, price, price+0.5, price-0.5, price)
	}
	return bars
}

// scripted replays a fixed list of signals and relies on Base for risk
// management.
type scripted struct {
	Base
	name    string
	signals []domain.Signal
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) CalculateIndicators(bars []domain.Bar) (*Frame, error) {
	return NewFrame(bars), nil
}

func (s *scripted) GenerateSignals(*Frame) ([]domain.Signal, error) {
	return s.signals, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &scripted{name: "test-strategy"}

	r.Register(s)

	got, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Get returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered strategy")
	}
	if _, err := r.Lookup("nonexistent"); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("Lookup error = %v, want ErrUnknownStrategy", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&scripted{name: "beta"})
	r.Register(&scripted{name: "alpha"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestFrame(t *testing.T) {
	f := NewFrame(flatBars(3, 10))
	f.Set("x", []float64{1, 2, 3})

	if f.Len() != 3 {
		t.Errorf("Len = %d, want 3", f.Len())
	}
	if got := f.Value("x", 1); got != 2 {
		t.Errorf("Value(x, 1) = %v, want 2", got)
	}
	for _, tc := range []struct {
		name string
		key  string
		i    int
	}{
		{"missing indicator", "y", 0},
		{"negative index", "x", -1},
		{"past end", "x", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.Value(tc.key, tc.i); !math.IsNaN(got) {
				t.Errorf("Value = %v, want NaN", got)
			}
		})
	}
	if got := f.Closes(); got[2] != 10 {
		t.Errorf("Closes()[2] = %v, want 10", got[2])
	}
}

func TestFrameSetMisaligned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Set with a misaligned series did not panic")
		}
	}()
	NewFrame(flatBars(3, 10)).Set("x", []float64{1})
}

func TestParams(t *testing.T) {
	p := Params{
		"f":     1.5,
		"i":     7,
		"whole": 3.0,
		"frac":  3.5,
		"b":     true,
		"s":     "EMA",
		"empty": "",
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"float", p.Float("f", 0), 1.5},
		{"float from int", p.Float("i", 0), 7.0},
		{"float default", p.Float("missing", 2.5), 2.5},
		{"float wrong type", p.Float("s", 2.5), 2.5},
		{"int", p.Int("i", 0), 7},
		{"int from whole float", p.Int("whole", 0), 3},
		{"int from fraction", p.Int("frac", 9), 9},
		{"bool", p.Bool("b", false), true},
		{"bool default", p.Bool("missing", true), true},
		{"string", p.String("s", "SMA"), "EMA"},
		{"empty string", p.String("empty", "SMA"), "SMA"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}

	var nilParams Params
	if got := nilParams.Int("x", 4); got != 4 {
		t.Errorf("nil Params Int = %d, want 4", got)
	}
}
