package position

import (
	"github.com/shopspring/decimal"

	"fundingarb/src/model"
)

// Sizer converts a price, an available balance, and per-instrument
// constraints into a single valid order quantity. Rounding is always DOWN:
// it is safe to under-order, never to over-order.
type Sizer struct {
	maxPositionSizeUSD decimal.Decimal
}

func NewSizer(maxPositionSizeUSD decimal.Decimal) *Sizer {
	return &Sizer{maxPositionSizeUSD: maxPositionSizeUSD}
}

// Quantity computes the largest valid order quantity for one instrument:
// min(configured cap, balance) / price, truncated to the quantity step.
// ok is false when the result fails the instrument's minimum quantity or
// minimum notional.
func (s *Sizer) Quantity(price, availableBalance decimal.Decimal, instrument model.InstrumentInfo) (decimal.Decimal, bool) {
	if price.Sign() <= 0 {
		return decimal.Zero, false
	}

	maxByConfig := s.maxPositionSizeUSD.Div(price)
	maxByBalance := availableBalance.Div(price)
	raw := decimal.Min(maxByConfig, maxByBalance)

	qty := model.RoundToStep(raw, instrument.QtyStep)

	if qty.LessThan(instrument.MinQty) {
		return decimal.Zero, false
	}
	if qty.Mul(price).LessThan(instrument.MinNotional) {
		return decimal.Zero, false
	}

	return qty, true
}

// MatchingQuantity computes one quantity simultaneously legal for both legs.
// It truncates to the COARSER (larger) of the two quantity steps and
// validates against the STRICTER (larger) of the two minimums, so the result
// holds on whichever book it lands.
func (s *Sizer) MatchingQuantity(price, availableBalance decimal.Decimal, spot, perp model.InstrumentInfo) (decimal.Decimal, bool) {
	if price.Sign() <= 0 {
		return decimal.Zero, false
	}

	coarserStep := decimal.Max(spot.QtyStep, perp.QtyStep)
	higherMinQty := decimal.Max(spot.MinQty, perp.MinQty)
	higherMinNotional := decimal.Max(spot.MinNotional, perp.MinNotional)

	maxByConfig := s.maxPositionSizeUSD.Div(price)
	maxByBalance := availableBalance.Div(price)
	raw := decimal.Min(maxByConfig, maxByBalance)

	qty := model.RoundToStep(raw, coarserStep)

	if qty.LessThan(higherMinQty) {
		return decimal.Zero, false
	}
	if qty.Mul(price).LessThan(higherMinNotional) {
		return decimal.Zero, false
	}

	return qty, true
}
