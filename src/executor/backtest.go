package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundingarb/src/model"
)

// BacktestExecutor fills orders at prices injected by the replay harness.
// The simulated clock is advanced externally so fills carry historical
// timestamps. Implements the same Executor contract as the paper and live
// backends, which lets the replay harness reuse the execution core
// unmodified.
type BacktestExecutor struct {
	spotTaker decimal.Decimal
	perpTaker decimal.Decimal

	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	current time.Time
}

func NewBacktestExecutor(spotTaker, perpTaker decimal.Decimal) *BacktestExecutor {
	return &BacktestExecutor{
		spotTaker: spotTaker,
		perpTaker: perpTaker,
		prices:    make(map[string]decimal.Decimal),
	}
}

// SetPrices replaces the price snapshot for the current replay step.
func (b *BacktestExecutor) SetPrices(prices map[string]decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices = make(map[string]decimal.Decimal, len(prices))
	for symbol, price := range prices {
		b.prices[symbol] = price
	}
}

// SetCurrentTime advances the simulated clock.
func (b *BacktestExecutor) SetCurrentTime(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = at
}

func (b *BacktestExecutor) PlaceOrder(_ context.Context, request model.OrderRequest) (*model.OrderResult, error) {
	b.mu.Lock()
	price, ok := b.prices[request.Symbol]
	at := b.current
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no replay price for %s", ErrPriceUnavailable, request.Symbol)
	}

	feeRate := b.perpTaker
	if request.Category == model.CategorySpot {
		feeRate = b.spotTaker
	}
	fee := request.Quantity.Mul(price).Mul(feeRate)

	return &model.OrderResult{
		OrderID:     "bt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Symbol:      request.Symbol,
		Side:        request.Side,
		FilledQty:   request.Quantity,
		FilledPrice: price,
		Fee:         fee,
		FilledAt:    at,
		IsSimulated: true,
	}, nil
}

func (b *BacktestExecutor) CancelOrder(_ context.Context, _, _, _ string) (bool, error) {
	return true, nil
}
