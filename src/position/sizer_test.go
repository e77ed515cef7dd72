package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"fundingarb/src/model"
)

func btcSpotInstrument() model.InstrumentInfo {
	return model.InstrumentInfo{
		Symbol:      "BTCUSDT",
		MinQty:      decimal.RequireFromString("0.0001"),
		MaxQty:      decimal.RequireFromString("100"),
		QtyStep:     decimal.RequireFromString("0.0001"),
		MinNotional: decimal.RequireFromString("10"),
		TickSize:    decimal.RequireFromString("0.01"),
	}
}

func btcPerpInstrument() model.InstrumentInfo {
	return model.InstrumentInfo{
		Symbol:      "BTCUSDT",
		MinQty:      decimal.RequireFromString("0.001"),
		MaxQty:      decimal.RequireFromString("500"),
		QtyStep:     decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
		TickSize:    decimal.RequireFromString("0.1"),
	}
}

func TestSizerQuantityCapsAtConfiguredMax(t *testing.T) {
	sizer := NewSizer(decimal.RequireFromString("1000"))

	// Balance 10000 but cap 1000: 1000 / 50000 = 0.02
	qty, ok := sizer.Quantity(
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("10000"),
		btcSpotInstrument(),
	)
	if !ok {
		t.Fatalf("expected a valid quantity")
	}
	if !qty.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("expected 0.02, got %s", qty)
	}
}

func TestSizerQuantityCapsAtBalance(t *testing.T) {
	sizer := NewSizer(decimal.RequireFromString("1000"))

	// Balance 500 below the cap: 500 / 50000 = 0.01
	qty, ok := sizer.Quantity(
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("500"),
		btcSpotInstrument(),
	)
	if !ok {
		t.Fatalf("expected a valid quantity")
	}
	if !qty.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected 0.01, got %s", qty)
	}
}

func TestSizerQuantityRejectsBelowMinQty(t *testing.T) {
	sizer := NewSizer(decimal.RequireFromString("1"))

	if _, ok := sizer.Quantity(
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("10000"),
		btcSpotInstrument(),
	); ok {
		t.Fatalf("expected rejection: 1/50000 truncates below min qty")
	}
}

func TestSizerQuantityRejectsBelowMinNotional(t *testing.T) {
	instrument := btcSpotInstrument()
	instrument.MinNotional = decimal.RequireFromString("100")
	sizer := NewSizer(decimal.RequireFromString("50"))

	if _, ok := sizer.Quantity(
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("10000"),
		instrument,
	); ok {
		t.Fatalf("expected rejection: notional 50 below minimum 100")
	}
}

func TestSizerNotionalNeverExceedsLimits(t *testing.T) {
	sizer := NewSizer(decimal.RequireFromString("1000"))

	prices := []string{"50000", "3000", "0.5", "123.456"}
	balances := []string{"10000", "750", "12.34", "1000000"}

	for _, p := range prices {
		for _, b := range balances {
			price := decimal.RequireFromString(p)
			balance := decimal.RequireFromString(b)

			qty, ok := sizer.Quantity(price, balance, model.InstrumentInfo{
				MinQty:  decimal.RequireFromString("0.000001"),
				QtyStep: decimal.RequireFromString("0.000001"),
			})
			if !ok {
				continue
			}

			limit := decimal.Min(decimal.RequireFromString("1000"), balance)
			if qty.Mul(price).GreaterThan(limit) {
				t.Fatalf("price %s balance %s: notional %s exceeds limit %s",
					p, b, qty.Mul(price), limit)
			}
		}
	}
}

func TestMatchingQuantityUsesCoarserStep(t *testing.T) {
	sizer := NewSizer(decimal.RequireFromString("1000"))

	// Spot step 0.0001, perp step 0.001: result must land on 0.001.
	qty, ok := sizer.MatchingQuantity(
		decimal.RequireFromString("43210"),
		decimal.RequireFromString("10000"),
		btcSpotInstrument(),
		btcPerpInstrument(),
	)
	if !ok {
		t.Fatalf("expected a valid quantity")
	}

	// 1000 / 43210 = 0.023142...; truncated to 0.001 step = 0.023
	if !qty.Equal(decimal.RequireFromString("0.023")) {
		t.Fatalf("expected 0.023, got %s", qty)
	}
}

func TestMatchingQuantityUsesStricterMinimums(t *testing.T) {
	spot := btcSpotInstrument()
	perp := btcPerpInstrument()
	perp.MinQty = decimal.RequireFromString("0.05")

	sizer := NewSizer(decimal.RequireFromString("1000"))

	// 0.02 clears spot's 0.0001 minimum but not perp's 0.05.
	if _, ok := sizer.MatchingQuantity(
		decimal.RequireFromString("50000"),
		decimal.RequireFromString("10000"),
		spot,
		perp,
	); ok {
		t.Fatalf("expected rejection against the stricter minimum")
	}
}

func TestSizerRejectsNonPositivePrice(t *testing.T) {
	sizer := NewSizer(decimal.RequireFromString("1000"))

	if _, ok := sizer.Quantity(decimal.Zero, decimal.RequireFromString("10000"), btcSpotInstrument()); ok {
		t.Fatalf("expected rejection for zero price")
	}
	if _, ok := sizer.MatchingQuantity(decimal.Zero, decimal.RequireFromString("10000"), btcSpotInstrument(), btcPerpInstrument()); ok {
		t.Fatalf("expected rejection for zero price")
	}
}
