package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"
)

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

const (
	PositionSideLong  = "long"
	PositionSideShort = "short"
)

// Order categories as the exchange understands them. Spot legs trade on the
// spot book, linear legs on the USDT-margined perpetual book.
const (
	CategorySpot   = "spot"
	CategoryLinear = "linear"
)

// OrderRequest is a request to place a single order. Built fresh per leg and
// never mutated after construction.
type OrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"order_type"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price,omitempty"` // unused for market orders
	Category string          `json:"category"`
}

// OrderResult is the fill produced by a successful PlaceOrder call.
type OrderResult struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	Fee         decimal.Decimal `json:"fee"`
	FilledAt    time.Time       `json:"filled_at"`
	IsSimulated bool            `json:"is_simulated"`
}

// Position is a committed delta-neutral pair: long spot plus short perp.
// Only the position manager creates these, and only after both legs filled
// and passed delta validation, so a Position always carries two non-empty
// order IDs and positive leg quantities. Quantity is the spot fill; the perp
// fill may differ by up to the drift tolerance.
type Position struct {
	ID             string          `json:"id"`
	SpotSymbol     string          `json:"spot_symbol"`
	PerpSymbol     string          `json:"perp_symbol"`
	Side           string          `json:"side"`
	Quantity       decimal.Decimal `json:"quantity"`
	PerpQuantity   decimal.Decimal `json:"perp_quantity"`
	SpotEntryPrice decimal.Decimal `json:"spot_entry_price"`
	PerpEntryPrice decimal.Decimal `json:"perp_entry_price"`
	SpotOrderID    string          `json:"spot_order_id"`
	PerpOrderID    string          `json:"perp_order_id"`
	OpenedAt       time.Time       `json:"opened_at"`
	EntryFeeTotal  decimal.Decimal `json:"entry_fee_total"`
}

// DeltaStatus is the result of a drift check between two leg quantities.
type DeltaStatus struct {
	PositionID        string          `json:"position_id,omitempty"`
	SpotQty           decimal.Decimal `json:"spot_qty"`
	PerpQty           decimal.Decimal `json:"perp_qty"`
	DriftPct          decimal.Decimal `json:"drift_pct"`
	IsWithinTolerance bool            `json:"is_within_tolerance"`
	CheckedAt         time.Time       `json:"checked_at"`
}

// RiskVerdict is the synchronous admission decision for a proposed position.
type RiskVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// InstrumentInfo holds per-market trading constraints fetched from the
// exchange. Consumed by the position sizer.
type InstrumentInfo struct {
	Symbol      string          `json:"symbol"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`
	QtyStep     decimal.Decimal `json:"qty_step"`
	MinNotional decimal.Decimal `json:"min_notional"`
	TickSize    decimal.Decimal `json:"tick_size"`
}

// FundingRate is a snapshot of funding data for one perpetual pair.
type FundingRate struct {
	Symbol          string          `json:"symbol"`
	Rate            decimal.Decimal `json:"rate"`
	NextFundingTime time.Time       `json:"next_funding_time"`
	IntervalHours   int             `json:"interval_hours"`
	MarkPrice       decimal.Decimal `json:"mark_price"`
	Volume24h       decimal.Decimal `json:"volume_24h"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OpportunityScore is a ranked funding arbitrage candidate produced by the
// scorer. The engine only consumes the verdict; it never computes scores.
type OpportunityScore struct {
	SpotSymbol    string          `json:"spot_symbol"`
	PerpSymbol    string          `json:"perp_symbol"`
	FundingRate   decimal.Decimal `json:"funding_rate"`
	IntervalHours int             `json:"interval_hours"`
	Volume24h     decimal.Decimal `json:"volume_24h"`
	Score         decimal.Decimal `json:"score"`
	BreakevenRate decimal.Decimal `json:"breakeven_rate"`
	PassesEntry   bool            `json:"passes_entry"`
}

// ExitSignal is the scorer's per-symbol close recommendation for an open
// position.
type ExitSignal struct {
	Symbol     string          `json:"symbol"`
	Rate       decimal.Decimal `json:"rate"`
	ShouldExit bool            `json:"should_exit"`
}

// RoundToStep rounds a value down to the nearest step increment. Integer
// division guarantees truncation toward zero, so a computed quantity can
// never exceed the balance or cap it was derived from. A non-positive step
// returns the value unchanged.
func RoundToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
