package pnl

import (
	"github.com/shopspring/decimal"

	"fundingarb/src/model"
)

// FeeCalculator prices the trading costs of a delta-neutral pair and the
// funding flows it collects. Pure arithmetic, no state.
type FeeCalculator struct {
	spotTakerRate decimal.Decimal
	perpTakerRate decimal.Decimal
}

func NewFeeCalculator(cfg Config) *FeeCalculator {
	return &FeeCalculator{
		spotTakerRate: cfg.SpotTakerRate,
		perpTakerRate: cfg.PerpTakerRate,
	}
}

// EntryFee is the total taker fee for opening both legs at the given prices.
func (f *FeeCalculator) EntryFee(qty, spotPrice, perpPrice decimal.Decimal) decimal.Decimal {
	spotFee := qty.Mul(spotPrice).Mul(f.spotTakerRate)
	perpFee := qty.Mul(perpPrice).Mul(f.perpTakerRate)
	return spotFee.Add(perpFee)
}

// ExitFee mirrors EntryFee for the closing trades.
func (f *FeeCalculator) ExitFee(qty, spotPrice, perpPrice decimal.Decimal) decimal.Decimal {
	return f.EntryFee(qty, spotPrice, perpPrice)
}

// RoundTripFee is the full open-plus-close cost assuming entry and exit at
// the same prices. Used to amortize fees against expected funding income.
func (f *FeeCalculator) RoundTripFee(qty, spotPrice, perpPrice decimal.Decimal) decimal.Decimal {
	return f.EntryFee(qty, spotPrice, perpPrice).Add(f.ExitFee(qty, spotPrice, perpPrice))
}

// FundingPayment is the signed funding flow for one settlement:
// qty * markPrice * rate, credited to the short side when the rate is
// positive and debited when negative. A long position sees the opposite
// signs.
func (f *FeeCalculator) FundingPayment(qty, markPrice, rate decimal.Decimal, side string) decimal.Decimal {
	payment := qty.Mul(markPrice).Mul(rate)
	if side == model.PositionSideLong {
		return payment.Neg()
	}
	return payment
}

// BreakevenRate is the per-settlement funding rate at which collected
// funding over the given number of settlements exactly covers the
// round-trip fee. Zero notional or zero periods yields zero.
func (f *FeeCalculator) BreakevenRate(qty, spotPrice, perpPrice, markPrice decimal.Decimal, periods int) decimal.Decimal {
	if periods <= 0 {
		return decimal.Zero
	}
	notional := qty.Mul(markPrice).Mul(decimal.NewFromInt(int64(periods)))
	if notional.Sign() <= 0 {
		return decimal.Zero
	}
	return f.RoundTripFee(qty, spotPrice, perpPrice).Div(notional)
}

// IsProfitable reports whether holding a short for the given number of
// funding settlements at the current rate would out-earn the round-trip fee.
func (f *FeeCalculator) IsProfitable(qty, spotPrice, perpPrice, markPrice, rate decimal.Decimal, periods int) bool {
	expected := qty.Mul(markPrice).Mul(rate).Mul(decimal.NewFromInt(int64(periods)))
	return expected.GreaterThan(f.RoundTripFee(qty, spotPrice, perpPrice))
}
