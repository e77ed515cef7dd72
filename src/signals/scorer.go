package signals

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
	"fundingarb/src/pnl"
)

// Scorer produces the entry and exit verdicts the trading cycle consumes.
type Scorer interface {
	Opportunities(ctx context.Context) ([]model.OpportunityScore, error)
	ExitSignals(ctx context.Context, symbols []string) (map[string]model.ExitSignal, error)
}

// FundingSource supplies the current funding tickers. Satisfied by
// *exchange.Client and by the backtest replay feed.
type FundingSource interface {
	GetFundingRates(ctx context.Context) ([]model.FundingRate, error)
}

// FundingScorer ranks pairs on funding-rate level and gates entry on whether
// the expected funding over the minimum holding window covers the round-trip
// fees. A short perp collects positive rates, so only positive rates qualify
// for entry.
type FundingScorer struct {
	source         FundingSource
	cfg            Config
	fees           *pnl.FeeCalculator
	holdingPeriods int
}

// NewFundingScorer builds a scorer. A nil fee calculator or non-positive
// holding window disables the profitability gate, leaving only the rate and
// volume thresholds.
func NewFundingScorer(source FundingSource, cfg Config, fees *pnl.FeeCalculator, holdingPeriods int) *FundingScorer {
	return &FundingScorer{source: source, cfg: cfg, fees: fees, holdingPeriods: holdingPeriods}
}

// NormalizeRateLevel maps a funding rate to [0,1] against the configured
// cap. Rates at or beyond the cap saturate at 1.
func (s *FundingScorer) NormalizeRateLevel(rate decimal.Decimal) decimal.Decimal {
	if s.cfg.RateCap.Sign() <= 0 {
		return decimal.Zero
	}
	level := rate.Abs().Div(s.cfg.RateCap)
	if level.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return level
}

// Opportunities fetches current funding tickers, scores every pair, and
// returns them ranked by score descending. Entry passes when the rate meets
// the minimum entry rate and the pair has enough 24h volume.
func (s *FundingScorer) Opportunities(ctx context.Context) ([]model.OpportunityScore, error) {
	rates, err := s.source.GetFundingRates(ctx)
	if err != nil {
		return nil, err
	}

	one := decimal.New(1, 0)
	scores := make([]model.OpportunityScore, 0, len(rates))
	for _, rate := range rates {
		passes := rate.Rate.GreaterThanOrEqual(s.cfg.MinEntryRate) &&
			rate.Volume24h.GreaterThanOrEqual(s.cfg.MinVolume24h)

		// Fee amortization is per unit of notional, so quantity one at the
		// mark price judges profitability for any position size.
		breakeven := decimal.Zero
		if s.fees != nil && s.holdingPeriods > 0 && rate.MarkPrice.Sign() > 0 {
			breakeven = s.fees.BreakevenRate(one, rate.MarkPrice, rate.MarkPrice, rate.MarkPrice, s.holdingPeriods)
			passes = passes && s.fees.IsProfitable(one, rate.MarkPrice, rate.MarkPrice, rate.MarkPrice, rate.Rate, s.holdingPeriods)
		}

		scores = append(scores, model.OpportunityScore{
			SpotSymbol:    rate.Symbol,
			PerpSymbol:    rate.Symbol,
			FundingRate:   rate.Rate,
			IntervalHours: rate.IntervalHours,
			Volume24h:     rate.Volume24h,
			Score:         s.NormalizeRateLevel(rate.Rate),
			BreakevenRate: breakeven,
			PassesEntry:   passes,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		return scores[i].Score.GreaterThan(scores[j].Score)
	})

	logger.WithField("pairs", len(scores)).Debug("opportunities scored")
	return scores, nil
}

// ExitSignals returns the per-symbol close recommendation for the given
// symbols. A symbol missing from the current tickers gets no entry in the
// result; the caller treats absence as an exit.
func (s *FundingScorer) ExitSignals(ctx context.Context, symbols []string) (map[string]model.ExitSignal, error) {
	rates, err := s.source.GetFundingRates(ctx)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]model.FundingRate, len(rates))
	for _, rate := range rates {
		bySymbol[rate.Symbol] = rate
	}

	out := make(map[string]model.ExitSignal, len(symbols))
	for _, symbol := range symbols {
		rate, ok := bySymbol[symbol]
		if !ok {
			continue
		}
		out[symbol] = model.ExitSignal{
			Symbol:     symbol,
			Rate:       rate.Rate,
			ShouldExit: rate.Rate.LessThan(s.cfg.ExitRate),
		}
	}

	return out, nil
}
