package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundingarb/src/model"
	"fundingarb/src/pnl"
)

type stubSource struct {
	rates []model.FundingRate
	err   error
}

func (s *stubSource) GetFundingRates(ctx context.Context) ([]model.FundingRate, error) {
	return s.rates, s.err
}

func scorerConfig() Config {
	return Config{
		MinEntryRate: decimal.NewFromFloat(0.0001),
		ExitRate:     decimal.NewFromFloat(0.00005),
		MinVolume24h: decimal.NewFromInt(1000000),
		RateCap:      decimal.NewFromFloat(0.01),
	}
}

func TestNormalizeRateLevel(t *testing.T) {
	s := NewFundingScorer(nil, scorerConfig(), nil, 0)

	half := s.NormalizeRateLevel(decimal.NewFromFloat(0.005))
	assert.True(t, half.Equal(decimal.NewFromFloat(0.5)), "got %s", half)

	// saturates at the cap
	capped := s.NormalizeRateLevel(decimal.NewFromFloat(0.02))
	assert.True(t, capped.Equal(decimal.NewFromInt(1)))

	// negative rates score on magnitude
	neg := s.NormalizeRateLevel(decimal.NewFromFloat(-0.005))
	assert.True(t, neg.Equal(decimal.NewFromFloat(0.5)))
}

func TestOpportunitiesRankedByScore(t *testing.T) {
	source := &stubSource{rates: []model.FundingRate{
		{Symbol: "ETHUSDT", Rate: decimal.NewFromFloat(0.0002), Volume24h: decimal.NewFromInt(5000000)},
		{Symbol: "BTCUSDT", Rate: decimal.NewFromFloat(0.0005), Volume24h: decimal.NewFromInt(90000000)},
		{Symbol: "DOGEUSDT", Rate: decimal.NewFromFloat(0.0003), Volume24h: decimal.NewFromInt(2000000)},
	}}
	s := NewFundingScorer(source, scorerConfig(), nil, 0)

	scores, err := s.Opportunities(context.Background())

	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, "BTCUSDT", scores[0].PerpSymbol)
	assert.Equal(t, "DOGEUSDT", scores[1].PerpSymbol)
	assert.Equal(t, "ETHUSDT", scores[2].PerpSymbol)
	for _, score := range scores {
		assert.True(t, score.PassesEntry)
	}
}

func TestOpportunitiesEntryGates(t *testing.T) {
	source := &stubSource{rates: []model.FundingRate{
		{Symbol: "LOWRATE", Rate: decimal.NewFromFloat(0.00005), Volume24h: decimal.NewFromInt(5000000)},
		{Symbol: "THINBOOK", Rate: decimal.NewFromFloat(0.0005), Volume24h: decimal.NewFromInt(1000)},
		{Symbol: "NEGRATE", Rate: decimal.NewFromFloat(-0.0005), Volume24h: decimal.NewFromInt(5000000)},
	}}
	s := NewFundingScorer(source, scorerConfig(), nil, 0)

	scores, err := s.Opportunities(context.Background())

	require.NoError(t, err)
	for _, score := range scores {
		assert.False(t, score.PassesEntry, "symbol %s should not pass", score.PerpSymbol)
	}
}

func TestOpportunitiesProfitabilityGate(t *testing.T) {
	// round-trip fees cost 0.0031 of notional: three settlements at 0.0005
	// collect 0.0015 and lose money, eight collect 0.0040 and clear the bar
	fees := pnl.NewFeeCalculator(pnl.Config{
		SpotTakerRate: decimal.NewFromFloat(0.001),
		PerpTakerRate: decimal.NewFromFloat(0.00055),
	})
	source := &stubSource{rates: []model.FundingRate{
		{
			Symbol:    "BTCUSDT",
			Rate:      decimal.NewFromFloat(0.0005),
			Volume24h: decimal.NewFromInt(90000000),
			MarkPrice: decimal.NewFromInt(50000),
		},
	}}

	short := NewFundingScorer(source, scorerConfig(), fees, 3)
	scores, err := short.Opportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.False(t, scores[0].PassesEntry)
	assert.True(t, scores[0].BreakevenRate.GreaterThan(scores[0].FundingRate),
		"breakeven %s must exceed the rate %s", scores[0].BreakevenRate, scores[0].FundingRate)

	long := NewFundingScorer(source, scorerConfig(), fees, 8)
	scores, err = long.Opportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.True(t, scores[0].PassesEntry)
	assert.True(t, scores[0].BreakevenRate.LessThan(scores[0].FundingRate))
}

func TestOpportunitiesGateSkippedWithoutMarkPrice(t *testing.T) {
	fees := pnl.NewFeeCalculator(pnl.Config{
		SpotTakerRate: decimal.NewFromFloat(0.001),
		PerpTakerRate: decimal.NewFromFloat(0.00055),
	})
	source := &stubSource{rates: []model.FundingRate{
		{Symbol: "NOMARK", Rate: decimal.NewFromFloat(0.0005), Volume24h: decimal.NewFromInt(90000000)},
	}}
	s := NewFundingScorer(source, scorerConfig(), fees, 3)

	scores, err := s.Opportunities(context.Background())

	require.NoError(t, err)
	require.Len(t, scores, 1)
	// profitability cannot be judged without a mark price, so only the rate
	// and volume thresholds apply
	assert.True(t, scores[0].PassesEntry)
	assert.True(t, scores[0].BreakevenRate.IsZero())
}

func TestOpportunitiesSourceError(t *testing.T) {
	s := NewFundingScorer(&stubSource{err: errors.New("exchange down")}, scorerConfig(), nil, 0)

	_, err := s.Opportunities(context.Background())

	assert.Error(t, err)
}

func TestExitSignals(t *testing.T) {
	source := &stubSource{rates: []model.FundingRate{
		{Symbol: "BTCUSDT", Rate: decimal.NewFromFloat(0.0005)},
		{Symbol: "ETHUSDT", Rate: decimal.NewFromFloat(0.00001)},
	}}
	s := NewFundingScorer(source, scorerConfig(), nil, 0)

	signalsBySymbol, err := s.ExitSignals(context.Background(), []string{"BTCUSDT", "ETHUSDT", "GONEUSDT"})

	require.NoError(t, err)
	require.Len(t, signalsBySymbol, 2)
	assert.False(t, signalsBySymbol["BTCUSDT"].ShouldExit)
	assert.True(t, signalsBySymbol["ETHUSDT"].ShouldExit)

	// delisted symbol is simply absent; callers treat that as an exit
	_, present := signalsBySymbol["GONEUSDT"]
	assert.False(t, present)
}
