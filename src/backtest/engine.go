package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/exchange"
	"fundingarb/src/executor"
	"fundingarb/src/model"
	"fundingarb/src/orchestrator"
	"fundingarb/src/pnl"
	"fundingarb/src/position"
	"fundingarb/src/risk"
	"fundingarb/src/signals"
)

// FundingHistory supplies stored funding snapshots for replay. Satisfied by
// *repository.FundingRateRepository.
type FundingHistory interface {
	FetchRange(ctx context.Context, from, to time.Time) ([]model.FundingRateRecord, error)
}

// KlineHistory supplies stored candles for replay pricing. Satisfied by
// *repository.KlineRepository. A nil history prices every fill at the
// funding mark price instead.
type KlineHistory interface {
	FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]model.Kline, error)
}

// Options configures one backtest run. The zero values of the embedded
// configs are not usable; callers pass the same configs the live bot uses.
type Options struct {
	StartBalance       decimal.Decimal
	MaxPositionSizeUSD decimal.Decimal
	DriftTolerance     decimal.Decimal
	SettleInterval     time.Duration

	Scorer signals.Config
	Risk   risk.Config
	Fees   pnl.Config
}

// Result is the outcome of a replay run.
type Result struct {
	Steps        int             `json:"steps"`
	FinalBalance decimal.Decimal `json:"final_balance"`
	Portfolio    pnl.Summary     `json:"portfolio"`
}

// Engine replays stored funding history through the exact execution core the
// live bot runs: the same sizer, manager, risk checks, and scorer, backed by
// a backtest executor that fills at historical prices. Funding settles every
// settle interval of simulated time.
type Engine struct {
	history FundingHistory
	klines  KlineHistory
	opts    Options

	klineSeries map[string][]model.Kline
	klineCursor map[string]int

	exec    *executor.BacktestExecutor
	ticker  *exchange.TickerCache
	manager *position.Manager
	tracker *pnl.Tracker
	orch    *orchestrator.Orchestrator
	feed    *replayFeed
}

func NewEngine(history FundingHistory, klines KlineHistory, opts Options) *Engine {
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = 8 * time.Hour
	}

	exec := executor.NewBacktestExecutor(opts.Fees.SpotTakerRate, opts.Fees.PerpTakerRate)
	ticker := exchange.NewTickerCache()

	sizer := position.NewSizer(opts.MaxPositionSizeUSD)
	validator := position.NewDeltaValidator(opts.DriftTolerance)
	manager := position.NewManager(exec, sizer, validator, ticker, time.Minute)

	tracker := pnl.NewTracker(pnl.NewFeeCalculator(opts.Fees))

	feed := &replayFeed{
		startBalance: opts.StartBalance,
		manager:      manager,
		tracker:      tracker,
	}

	scorer := signals.NewFundingScorer(feed, opts.Scorer, pnl.NewFeeCalculator(opts.Fees), opts.Fees.MinHoldingPeriods)
	riskManager := risk.NewManager(opts.Risk, nil)
	emergency := risk.NewEmergencyController(manager, tracker, func() {
		logger.Warn("emergency shutdown during replay")
	}, opts.Risk.EmergencyMaxRetries, 0)

	orchCfg := orchestrator.Config{
		ScanInterval:       time.Minute,
		FundingInterval:    opts.SettleInterval,
		MaxPositionSizeUSD: opts.MaxPositionSizeUSD,
	}
	orch := orchestrator.New(orchCfg, scorer, manager, riskManager, emergency, tracker, feed, ticker)

	return &Engine{
		history: history,
		klines:  klines,
		opts:    opts,
		exec:    exec,
		ticker:  ticker,
		manager: manager,
		tracker: tracker,
		orch:    orch,
		feed:    feed,
	}
}

// Run walks the stored history between from and to in time order, running
// one trading cycle per snapshot timestamp. Open positions are closed at the
// final prices before the summary is produced.
func (e *Engine) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	records, err := e.history.FetchRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading funding history: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no funding history between %s and %s", from, to)
	}

	if err := e.loadKlines(ctx, records, from, to); err != nil {
		return nil, err
	}

	steps := groupByDatetime(records)
	lastSettle := steps[0].at

	logger.WithFields(logger.Fields{
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
		"steps": len(steps),
	}).Info("replay started")

	for _, step := range steps {
		e.applyStep(step)

		if step.at.Sub(lastSettle) >= e.opts.SettleInterval {
			e.settle(step)
			lastSettle = step.at
		}

		e.orch.RunCycle(ctx)
	}

	e.closeRemaining(ctx)

	result := &Result{
		Steps:        len(steps),
		FinalBalance: e.feed.balance(),
		Portfolio:    e.tracker.PortfolioSummary(),
	}

	logger.WithFields(logger.Fields{
		"steps":         result.Steps,
		"final_balance": result.FinalBalance.String(),
		"realized_pnl":  result.Portfolio.RealizedPnL.String(),
	}).Info("replay finished")

	return result, nil
}

// loadKlines fetches stored candles for every symbol in the replay. Candle
// closes take priority over funding mark prices when filling orders, so a
// backfilled kline history prices the replay from actual trades.
func (e *Engine) loadKlines(ctx context.Context, records []model.FundingRateRecord, from, to time.Time) error {
	e.klineSeries = make(map[string][]model.Kline)
	e.klineCursor = make(map[string]int)
	if e.klines == nil {
		return nil
	}

	seen := make(map[string]bool, len(records))
	for _, record := range records {
		if seen[record.Symbol] {
			continue
		}
		seen[record.Symbol] = true

		rows, err := e.klines.FetchRange(ctx, record.Symbol, from, to)
		if err != nil {
			return fmt.Errorf("loading klines for %s: %w", record.Symbol, err)
		}
		if len(rows) > 0 {
			e.klineSeries[record.Symbol] = rows
		}
	}

	logger.WithField("symbols_with_klines", len(e.klineSeries)).Debug("kline history loaded")
	return nil
}

// klineClose returns the close of the latest candle at or before the step
// time. Steps advance monotonically, so a per-symbol cursor walks each series
// exactly once over the whole run.
func (e *Engine) klineClose(symbol string, at time.Time) (decimal.Decimal, bool) {
	series, ok := e.klineSeries[symbol]
	if !ok {
		return decimal.Zero, false
	}

	i := e.klineCursor[symbol]
	for i < len(series) && !series[i].Datetime.After(at) {
		i++
	}
	e.klineCursor[symbol] = i

	if i == 0 {
		return decimal.Zero, false
	}
	return series[i-1].Close, true
}

// applyStep pushes one snapshot's prices and clock into the executor, the
// ticker cache, and the market feed. Fills price at the latest stored candle
// close when one exists, the funding mark price otherwise.
func (e *Engine) applyStep(step replayStep) {
	prices := make(map[string]decimal.Decimal, len(step.records))
	for _, record := range step.records {
		price := record.MarkPrice
		if c, ok := e.klineClose(record.Symbol, step.at); ok && c.Sign() > 0 {
			price = c
		}
		prices[record.Symbol] = price
		e.ticker.Update(record.Symbol, price, step.at)
	}

	step.prices = prices
	e.exec.SetCurrentTime(step.at)
	e.exec.SetPrices(prices)
	e.feed.setStep(step)
}

func (e *Engine) settle(step replayStep) {
	rates := make(map[string]model.FundingRate, len(step.records))
	for _, record := range step.records {
		rates[record.Symbol] = model.FundingRate{
			Symbol:    record.Symbol,
			Rate:      record.Rate,
			MarkPrice: record.MarkPrice,
			UpdatedAt: step.at,
		}
	}

	total := e.tracker.SimulateFundingSettlement(e.manager.OpenPositions(), rates)
	logger.WithFields(logger.Fields{
		"at":    step.at.Format(time.RFC3339),
		"total": total.String(),
	}).Debug("replay funding settled")
}

func (e *Engine) closeRemaining(ctx context.Context) {
	for _, pos := range e.manager.OpenPositions() {
		spotFill, perpFill, err := e.manager.Close(ctx, pos.ID)
		if err != nil {
			logger.WithError(err).WithField("position_id", pos.ID).Error("replay final close failed")
			continue
		}
		e.tracker.RecordClose(pos.ID, spotFill.FilledPrice, perpFill.FilledPrice, spotFill.Fee.Add(perpFill.Fee))
	}
}

type replayStep struct {
	at      time.Time
	records []model.FundingRateRecord
	prices  map[string]decimal.Decimal
}

// groupByDatetime buckets rows sharing a timestamp into replay steps. Rows
// arrive ordered by datetime from the repository, so grouping is a single
// pass.
func groupByDatetime(records []model.FundingRateRecord) []replayStep {
	var steps []replayStep
	for _, record := range records {
		n := len(steps)
		if n > 0 && steps[n-1].at.Equal(record.Datetime) {
			steps[n-1].records = append(steps[n-1].records, record)
			continue
		}
		steps = append(steps, replayStep{at: record.Datetime, records: []model.FundingRateRecord{record}})
	}
	return steps
}
