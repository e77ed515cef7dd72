package pnl

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fundingarb/src/model"
)

func testCalculator() *FeeCalculator {
	return NewFeeCalculator(Config{
		SpotTakerRate: decimal.NewFromFloat(0.001),
		PerpTakerRate: decimal.NewFromFloat(0.00055),
	})
}

func TestEntryFee(t *testing.T) {
	calc := testCalculator()
	qty := decimal.NewFromFloat(0.02)
	price := decimal.NewFromInt(50000)

	// 0.02*50000*0.001 + 0.02*50000*0.00055 = 1.0 + 0.55
	fee := calc.EntryFee(qty, price, price)

	assert.True(t, fee.Equal(decimal.NewFromFloat(1.55)), "got %s", fee)
}

func TestRoundTripFeeIsDoubleEntry(t *testing.T) {
	calc := testCalculator()
	qty := decimal.NewFromFloat(0.02)
	price := decimal.NewFromInt(50000)

	fee := calc.RoundTripFee(qty, price, price)

	assert.True(t, fee.Equal(decimal.NewFromFloat(3.10)), "got %s", fee)
}

func TestFundingPaymentShortReceivesPositiveRate(t *testing.T) {
	calc := testCalculator()

	payment := calc.FundingPayment(
		decimal.NewFromFloat(0.02),
		decimal.NewFromInt(50000),
		decimal.NewFromFloat(0.0005),
		model.PositionSideShort,
	)

	assert.True(t, payment.Equal(decimal.NewFromFloat(0.5)), "got %s", payment)
}

func TestFundingPaymentShortPaysNegativeRate(t *testing.T) {
	calc := testCalculator()

	payment := calc.FundingPayment(
		decimal.NewFromFloat(0.02),
		decimal.NewFromInt(50000),
		decimal.NewFromFloat(-0.0005),
		model.PositionSideShort,
	)

	assert.True(t, payment.Equal(decimal.NewFromFloat(-0.5)), "got %s", payment)
}

func TestFundingPaymentLongSignFlipped(t *testing.T) {
	calc := testCalculator()

	payment := calc.FundingPayment(
		decimal.NewFromFloat(0.02),
		decimal.NewFromInt(50000),
		decimal.NewFromFloat(0.0005),
		model.PositionSideLong,
	)

	assert.True(t, payment.Equal(decimal.NewFromFloat(-0.5)), "got %s", payment)
}

func TestBreakevenRate(t *testing.T) {
	calc := testCalculator()
	qty := decimal.NewFromFloat(0.02)
	price := decimal.NewFromInt(50000)

	// round trip 3.10 over 3 settlements of 1000 notional each
	rate := calc.BreakevenRate(qty, price, price, price, 3)

	expected := decimal.NewFromFloat(3.10).Div(decimal.NewFromInt(3000))
	assert.True(t, rate.Equal(expected), "got %s", rate)
}

func TestBreakevenRateZeroPeriods(t *testing.T) {
	calc := testCalculator()

	rate := calc.BreakevenRate(decimal.NewFromFloat(0.02), decimal.NewFromInt(50000), decimal.NewFromInt(50000), decimal.NewFromInt(50000), 0)

	assert.True(t, rate.IsZero())
}

func TestIsProfitable(t *testing.T) {
	calc := testCalculator()
	qty := decimal.NewFromFloat(0.02)
	price := decimal.NewFromInt(50000)

	// 3 settlements at 0.0005 earn 1.50, below the 3.10 round trip
	assert.False(t, calc.IsProfitable(qty, price, price, price, decimal.NewFromFloat(0.0005), 3))

	// 3 settlements at 0.0011 earn 3.30
	assert.True(t, calc.IsProfitable(qty, price, price, price, decimal.NewFromFloat(0.0011), 3))
}
