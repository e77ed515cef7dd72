package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingarb/src/model"
	"fundingarb/src/pnl"
	"fundingarb/src/risk"
	"fundingarb/src/signals"
)

type stubHistory struct {
	records []model.FundingRateRecord
}

func (s *stubHistory) FetchRange(ctx context.Context, from, to time.Time) ([]model.FundingRateRecord, error) {
	return s.records, nil
}

type stubKlines struct {
	series map[string][]model.Kline
}

func (s *stubKlines) FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]model.Kline, error) {
	return s.series[symbol], nil
}

func testOptions() Options {
	return Options{
		StartBalance:       decimal.NewFromInt(10000),
		MaxPositionSizeUSD: decimal.NewFromInt(1000),
		DriftTolerance:     decimal.NewFromFloat(0.02),
		SettleInterval:     8 * time.Hour,
		Scorer: signals.Config{
			MinEntryRate: decimal.NewFromFloat(0.0001),
			ExitRate:     decimal.NewFromFloat(0.00005),
			MinVolume24h: decimal.NewFromInt(1000000),
			RateCap:      decimal.NewFromFloat(0.01),
		},
		Risk: risk.Config{
			MaxPositionSizePerPair:   decimal.NewFromInt(1000),
			MaxSimultaneousPositions: 5,
			MarginAlertThreshold:     decimal.NewFromFloat(0.8),
			MarginCriticalThreshold:  decimal.NewFromFloat(0.9),
			EmergencyMaxRetries:      3,
		},
		Fees: pnl.Config{
			SpotTakerRate: decimal.NewFromFloat(0.001),
			PerpTakerRate: decimal.NewFromFloat(0.00055),
		},
	}
}

func snapshot(at time.Time, rate float64) model.FundingRateRecord {
	return model.FundingRateRecord{
		Datetime:  at,
		Symbol:    "BTCUSDT",
		Rate:      decimal.NewFromFloat(rate),
		MarkPrice: decimal.NewFromInt(50000),
		Volume24h: decimal.NewFromInt(90000000),
	}
}

func TestEngineReplaysFullRoundTrip(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	history := &stubHistory{records: []model.FundingRateRecord{
		snapshot(start, 0.0005),
		snapshot(start.Add(8*time.Hour), 0.0005),
		snapshot(start.Add(16*time.Hour), 0.0005),
		snapshot(start.Add(24*time.Hour), 0.0005),
		snapshot(start.Add(32*time.Hour), 0.00001), // below exit rate
	}}

	engine := NewEngine(history, nil, testOptions())
	result, err := engine.Run(context.Background(), start, start.Add(32*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 5, result.Steps)

	// position opens at step 1 with qty 1000/50000 = 0.02, collects three
	// settlements at 0.0005 (0.5 each) plus one at 0.00001 (0.01), then
	// closes on the exit signal. Prices never move, so the spread is zero
	// and the net is funding 1.51 minus round-trip fees 3.10.
	assert.Equal(t, 1, result.Portfolio.ClosedPositions)
	assert.Equal(t, 0, result.Portfolio.OpenPositions)
	assert.True(t, result.Portfolio.FundingCollected.Equal(decimal.NewFromFloat(1.51)),
		"funding: %s", result.Portfolio.FundingCollected)
	assert.True(t, result.Portfolio.FeesPaid.Equal(decimal.NewFromFloat(3.10)),
		"fees: %s", result.Portfolio.FeesPaid)
	assert.True(t, result.Portfolio.RealizedPnL.Equal(decimal.NewFromFloat(-1.59)),
		"pnl: %s", result.Portfolio.RealizedPnL)
	assert.True(t, result.FinalBalance.Equal(decimal.NewFromFloat(8998.41)),
		"balance: %s", result.FinalBalance)
}

func TestEngineClosesRemainingAtEnd(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	history := &stubHistory{records: []model.FundingRateRecord{
		snapshot(start, 0.0005),
		snapshot(start.Add(8*time.Hour), 0.0005),
	}}

	engine := NewEngine(history, nil, testOptions())
	result, err := engine.Run(context.Background(), start, start.Add(8*time.Hour))

	require.NoError(t, err)
	// still attractive at the last step, so the engine force-closes
	assert.Equal(t, 0, result.Portfolio.OpenPositions)
	assert.Equal(t, 1, result.Portfolio.ClosedPositions)
}

func TestEngineFillsAtStoredKlineCloses(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	history := &stubHistory{records: []model.FundingRateRecord{
		snapshot(start, 0.0005),
		snapshot(start.Add(8*time.Hour), 0.0005),
	}}
	klines := &stubKlines{series: map[string][]model.Kline{
		"BTCUSDT": {
			{Datetime: start, Symbol: "BTCUSDT", Close: decimal.NewFromInt(40000)},
			{Datetime: start.Add(8 * time.Hour), Symbol: "BTCUSDT", Close: decimal.NewFromInt(40000)},
		},
	}}

	engine := NewEngine(history, klines, testOptions())
	result, err := engine.Run(context.Background(), start, start.Add(8*time.Hour))

	require.NoError(t, err)
	// the candle close of 40000 beats the 50000 mark for sizing: quantity is
	// 1000/40000 = 0.025, and the single settlement still pays at the mark,
	// 0.025 * 50000 * 0.0005 = 0.625
	assert.Equal(t, 1, result.Portfolio.ClosedPositions)
	assert.True(t, result.Portfolio.FundingCollected.Equal(decimal.NewFromFloat(0.625)),
		"funding: %s", result.Portfolio.FundingCollected)
}

func TestEngineEmptyHistory(t *testing.T) {
	engine := NewEngine(&stubHistory{}, nil, testOptions())

	_, err := engine.Run(context.Background(), time.Now().Add(-time.Hour), time.Now())

	assert.Error(t, err)
}
