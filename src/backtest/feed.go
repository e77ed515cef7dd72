package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"fundingarb/src/model"
	"fundingarb/src/pnl"
	"fundingarb/src/position"
)

// replayFeed serves market data out of the current replay step. It stands in
// for the live exchange client behind the orchestrator's market interface
// and the scorer's funding source.
type replayFeed struct {
	startBalance decimal.Decimal
	manager      *position.Manager
	tracker      *pnl.Tracker

	mu   sync.Mutex
	step replayStep
}

func (f *replayFeed) setStep(step replayStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = step
}

// balance is the virtual account: starting cash plus realized P&L minus the
// notional committed to open positions.
func (f *replayFeed) balance() decimal.Decimal {
	out := f.startBalance
	if f.tracker != nil {
		out = out.Add(f.tracker.PortfolioSummary().RealizedPnL)
	}
	for _, pos := range f.manager.OpenPositions() {
		out = out.Sub(pos.Quantity.Mul(pos.SpotEntryPrice))
	}
	return out
}

func (f *replayFeed) GetAvailableBalance(_ context.Context) (decimal.Decimal, error) {
	return f.balance(), nil
}

func (f *replayFeed) GetInstrumentInfo(_ context.Context, symbol, _ string) (*model.InstrumentInfo, error) {
	return &model.InstrumentInfo{
		Symbol:      symbol,
		MinQty:      decimal.RequireFromString("0.000001"),
		QtyStep:     decimal.RequireFromString("0.000001"),
		MinNotional: decimal.NewFromInt(5),
	}, nil
}

func (f *replayFeed) GetTickerPrice(_ context.Context, symbol, _ string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if price, ok := f.step.prices[symbol]; ok {
		return price, nil
	}
	for _, record := range f.step.records {
		if record.Symbol == symbol {
			return record.MarkPrice, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no replay price for %s", symbol)
}

// GetFundingRates reports the step's resolved trade price as the mark so
// every consumer of the feed prices against the same number the executor
// fills at. Settlement reads the stored mark directly from the records.
func (f *replayFeed) GetFundingRates(_ context.Context) ([]model.FundingRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rates := make([]model.FundingRate, 0, len(f.step.records))
	for _, record := range f.step.records {
		markPrice := record.MarkPrice
		if price, ok := f.step.prices[record.Symbol]; ok {
			markPrice = price
		}
		rates = append(rates, model.FundingRate{
			Symbol:        record.Symbol,
			Rate:          record.Rate,
			MarkPrice:     markPrice,
			Volume24h:     record.Volume24h,
			IntervalHours: 8,
			UpdatedAt:     f.step.at,
		})
	}
	return rates, nil
}
