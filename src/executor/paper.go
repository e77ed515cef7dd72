package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/exchange"
	"fundingarb/src/model"
)

// Simulated slippage: 5 basis points, applied against the order's direction.
var paperSlippage = decimal.RequireFromString("0.0005")

// Prices older than this are refused rather than filled.
const maxPriceAge = 60 * time.Second

// PaperExecutor simulates market-order fills from the shared ticker cache.
// Fills are instant, carry slippage and taker fees, and are flagged
// IsSimulated. Virtual quote balances track the cost of every fill.
type PaperExecutor struct {
	ticker    *exchange.TickerCache
	spotTaker decimal.Decimal
	perpTaker decimal.Decimal

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	now      func() time.Time
}

func NewPaperExecutor(ticker *exchange.TickerCache, spotTaker, perpTaker decimal.Decimal) *PaperExecutor {
	return &PaperExecutor{
		ticker:    ticker,
		spotTaker: spotTaker,
		perpTaker: perpTaker,
		balances:  make(map[string]decimal.Decimal),
		now:       time.Now,
	}
}

// SetInitialBalance seeds the virtual balance for a quote currency.
func (p *PaperExecutor) SetInitialBalance(currency string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[currency] = amount
}

// VirtualBalances returns a copy of the current virtual balances.
func (p *PaperExecutor) VirtualBalances() map[string]decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out
}

func (p *PaperExecutor) PlaceOrder(_ context.Context, request model.OrderRequest) (*model.OrderResult, error) {
	price, ok := p.ticker.Price(request.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrPriceUnavailable, request.Symbol)
	}
	if p.ticker.IsStale(request.Symbol, maxPriceAge) {
		return nil, fmt.Errorf("%w: price for %s older than %s", ErrPriceUnavailable, request.Symbol, maxPriceAge)
	}

	one := decimal.New(1, 0)
	var fillPrice decimal.Decimal
	if request.Side == model.SideBuy {
		fillPrice = price.Mul(one.Add(paperSlippage))
	} else {
		fillPrice = price.Mul(one.Sub(paperSlippage))
	}

	feeRate := p.perpTaker
	if request.Category == model.CategorySpot {
		feeRate = p.spotTaker
	}
	fee := request.Quantity.Mul(fillPrice).Mul(feeRate)

	p.applyBalanceChange(request, fillPrice, fee)

	orderID := "paper_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	logger.WithFields(logger.Fields{
		"order_id":   orderID,
		"symbol":     request.Symbol,
		"side":       request.Side,
		"quantity":   request.Quantity.String(),
		"fill_price": fillPrice.String(),
		"fee":        fee.String(),
		"category":   request.Category,
	}).Info("paper order filled")

	return &model.OrderResult{
		OrderID:     orderID,
		Symbol:      request.Symbol,
		Side:        request.Side,
		FilledQty:   request.Quantity,
		FilledPrice: fillPrice,
		Fee:         fee,
		FilledAt:    p.now(),
		IsSimulated: true,
	}, nil
}

func (p *PaperExecutor) applyBalanceChange(request model.OrderRequest, fillPrice, fee decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for currency, balance := range p.balances {
		if request.Side == model.SideBuy {
			cost := request.Quantity.Mul(fillPrice).Add(fee)
			p.balances[currency] = balance.Sub(cost)
		} else {
			proceeds := request.Quantity.Mul(fillPrice).Sub(fee)
			p.balances[currency] = balance.Add(proceeds)
		}
		break // single quote currency model
	}
}

// CancelOrder always acknowledges: paper fills are instant market orders, so
// there is never anything left on the book to cancel.
func (p *PaperExecutor) CancelOrder(_ context.Context, orderID, symbol, category string) (bool, error) {
	logger.WithFields(logger.Fields{
		"order_id": orderID,
		"symbol":   symbol,
		"category": category,
	}).Info("paper order cancelled")
	return true, nil
}

// SimulatePaperMargin derives a margin utilization figure for paper mode so
// the risk manager can run without a live exchange connection.
func SimulatePaperMargin(openPositions int, maxPositionSizeUSD, virtualEquity decimal.Decimal) decimal.Decimal {
	if virtualEquity.Sign() <= 0 {
		return decimal.Zero
	}
	totalUsed := maxPositionSizeUSD.Mul(decimal.NewFromInt(int64(openPositions)))
	return totalUsed.Div(virtualEquity)
}
