package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/zonetrader/market"
)

// RiskAmount is the account-currency loss of lots if price moves
// stopDistance against the position.
func RiskAmount(lots, stopDistance, valuePerLot float64) float64 {
	return lots * math.Abs(stopDistance) * valuePerLot
}

// LotsForRisk sizes a position so that a stop stopDistance away loses
// riskAmount, rounded down to the instrument's lot step. It returns 0 when
// the result is below the minimum lot.
func LotsForRisk(riskAmount, stopDistance, valuePerLot float64, meta market.InstrumentMeta) float64 {
	stopDistance = math.Abs(stopDistance)
	if riskAmount <= 0 || stopDistance <= 0 || valuePerLot <= 0 {
		return 0
	}
	return NormalizeLots(riskAmount/(stopDistance*valuePerLot), meta)
}

// NormalizeLots floors lots to the lot step and caps it at the maximum
// lot. Anything under the minimum lot becomes 0.
func NormalizeLots(lots float64, meta market.InstrumentMeta) float64 {
	if lots <= 0 || math.IsNaN(lots) || math.IsInf(lots, 0) {
		return 0
	}

	step := decimal.NewFromFloat(meta.LotStep)
	// Round away float noise first so 0.4999999999 floors to 0.50.
	v := decimal.NewFromFloat(lots).Round(8)
	if step.IsPositive() {
		v = v.Div(step).Floor().Mul(step)
	}
	if meta.MaxLot > 0 {
		v = decimal.Min(v, decimal.NewFromFloat(meta.MaxLot))
	}
	if v.LessThan(decimal.NewFromFloat(meta.MinLot)) {
		return 0
	}
	return v.InexactFloat64()
}
