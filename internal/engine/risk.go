package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"tradelab/internal/domain"
)

// ErrInsufficientMargin is returned when a position would need more margin
// than the account may commit.
var ErrInsufficientMargin = errors.New("insufficient margin")

// riskDeviationTolerance is the relative gap between requested and actual
// risk above which sizing logs a warning.
const riskDeviationTolerance = 0.10

// ---------------------------------------------------------------------------
// Position sizing
// ---------------------------------------------------------------------------

// PositionSizer converts a monetary risk budget into a lot size that honours
// the instrument's point value, contract size and volume constraints.
type PositionSizer struct {
	log *slog.Logger
}

// NewPositionSizer creates a PositionSizer. A nil logger uses slog.Default().
func NewPositionSizer(log *slog.Logger) *PositionSizer {
	if log == nil {
		log = slog.Default()
	}
	return &PositionSizer{log: log}
}

// Instrument returns inst when it is usable for sizing and the documented
// default otherwise, logging a warning in the latter case.
func (s *PositionSizer) Instrument(inst *domain.InstrumentInfo) domain.InstrumentInfo {
	if inst != nil && inst.Valid() {
		return *inst
	}
	def := domain.DefaultInstrument()
	if inst != nil {
		def.Symbol = inst.Symbol
	}
	s.log.Warn("instrument metadata missing or invalid, sizing with default forex conventions",
		"symbol", def.Symbol,
		"point", def.Point,
		"contract_size", def.ContractSize,
	)
	return def
}

// Size returns the lot size whose loss at stop equals balance×risk, snapped
// to the volume step and clamped to the volume limits. A zero or non-finite
// stop distance yields the minimum volume.
//
//	lots = balance×risk / ((|entry−stop| / point) × (contract×point))
func (s *PositionSizer) Size(balance, risk, entry, stop float64, inst domain.InstrumentInfo) float64 {
	riskAmount := balance * risk
	distance := math.Abs(entry - stop)
	if distance == 0 {
		s.log.Error("zero stop distance, using minimum volume",
			"symbol", inst.Symbol, "entry", entry, "stop", stop, "lots", inst.VolumeMin)
		return inst.VolumeMin
	}

	units := distance / inst.Point
	valuePerUnit := inst.ContractSize * inst.Point
	raw := riskAmount / (units * valuePerUnit)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		s.log.Error("non-finite lot size, using minimum volume",
			"symbol", inst.Symbol, "entry", entry, "stop", stop, "balance", balance, "lots", inst.VolumeMin)
		return inst.VolumeMin
	}

	lots := snapVolume(raw, inst)

	actual := lots * units * valuePerUnit
	if riskAmount > 0 && math.Abs(actual-riskAmount)/riskAmount > riskDeviationTolerance {
		s.log.Warn("actual risk deviates from target",
			"symbol", inst.Symbol,
			"target", riskAmount,
			"actual", actual,
			"lots_raw", raw,
			"lots", lots,
		)
	}
	return lots
}

// snapVolume rounds raw to the nearest volume step and clamps it to the
// instrument's volume range. Decimal arithmetic keeps the result an exact
// multiple of the step.
func snapVolume(raw float64, inst domain.InstrumentInfo) float64 {
	step := decimal.NewFromFloat(inst.VolumeStep)
	lots := decimal.NewFromFloat(raw).Div(step).Round(0).Mul(step)

	lo := decimal.NewFromFloat(inst.VolumeMin)
	hi := decimal.NewFromFloat(inst.VolumeMax)
	if lots.LessThan(lo) {
		lots = lo
	}
	if lots.GreaterThan(hi) {
		lots = hi
	}
	return lots.InexactFloat64()
}

// ---------------------------------------------------------------------------
// Margin
// ---------------------------------------------------------------------------

// RiskManager enforces account-level constraints on new positions.
type RiskManager struct {
	leverage    float64
	marginUsage float64
}

// NewRiskManager creates a RiskManager.
//
//   - leverage: account leverage (e.g. 100 for 1:100).
//   - marginUsage: maximum fraction of the balance that may be committed as
//     margin (e.g. 0.9).
func NewRiskManager(leverage, marginUsage float64) *RiskManager {
	if leverage <= 0 {
		leverage = 1
	}
	if marginUsage <= 0 {
		marginUsage = 0.9
	}
	return &RiskManager{leverage: leverage, marginUsage: marginUsage}
}

// RequiredMargin returns price×size×contract/leverage.
func (rm *RiskManager) RequiredMargin(price, size float64, inst domain.InstrumentInfo) float64 {
	contract := inst.ContractSize
	if contract <= 0 {
		contract = 1
	}
	return price * size * contract / rm.leverage
}

// CheckMargin returns ErrInsufficientMargin when the required margin exceeds
// marginUsage×balance.
func (rm *RiskManager) CheckMargin(price, size float64, inst domain.InstrumentInfo, balance float64) error {
	required := rm.RequiredMargin(price, size, inst)
	if limit := balance * rm.marginUsage; required > limit {
		return fmt.Errorf("required %.2f exceeds %.2f: %w", required, limit, ErrInsufficientMargin)
	}
	return nil
}
