package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/exchange"
	"fundingarb/src/model"
	"fundingarb/src/signals"
)

// PositionManager is the slice of the position manager the cycle drives.
type PositionManager interface {
	Open(ctx context.Context, spotSymbol, perpSymbol string, availableBalance decimal.Decimal, spotInfo, perpInfo model.InstrumentInfo) (*model.Position, error)
	Close(ctx context.Context, positionID string) (*model.OrderResult, *model.OrderResult, error)
	OpenPositions() []model.Position
}

// RiskChecker is the admission and margin interface of the risk manager.
type RiskChecker interface {
	CanOpen(symbol string, positionSizeUSD decimal.Decimal, openPositions []model.Position) model.RiskVerdict
	MarginRatio(ctx context.Context) (decimal.Decimal, bool, error)
	IsMarginCritical(ratio decimal.Decimal) bool
}

// EmergencyTrigger fires the emergency stop on critical margin.
type EmergencyTrigger interface {
	Trigger(ctx context.Context, reason string) (closedIDs, failedIDs []string)
	Triggered() bool
}

// Ledger is the P&L bookkeeping the cycle feeds.
type Ledger interface {
	RecordOpen(pos model.Position)
	RecordClose(positionID string, spotExitPrice, perpExitPrice, exitFee decimal.Decimal)
	SimulateFundingSettlement(positions []model.Position, rates map[string]model.FundingRate) decimal.Decimal
}

// MarketData supplies balances, instrument constraints, prices, and funding
// tickers. Satisfied by *exchange.Client; the backtest feed implements the
// same surface over stored history.
type MarketData interface {
	GetAvailableBalance(ctx context.Context) (decimal.Decimal, error)
	GetInstrumentInfo(ctx context.Context, symbol, category string) (*model.InstrumentInfo, error)
	GetTickerPrice(ctx context.Context, symbol, category string) (decimal.Decimal, error)
	GetFundingRates(ctx context.Context) ([]model.FundingRate, error)
}

// FundingRecorder persists funding snapshots for later replay. Satisfied by
// *repository.FundingRateRepository; nil disables recording.
type FundingRecorder interface {
	RecordFundingRates(ctx context.Context, rates []model.FundingRate) error
}

// Overrides are operator-supplied runtime adjustments. Nil fields leave the
// current value untouched; non-nil fields take effect at the next cycle
// start, never mid-cycle.
type Overrides struct {
	Paused             *bool            `json:"paused,omitempty"`
	ScanInterval       *time.Duration   `json:"scan_interval,omitempty"`
	MaxPositionSizeUSD *decimal.Decimal `json:"max_position_size_usd,omitempty"`
}

// Orchestrator runs the autonomous trading cycle: scan, close exits, open
// admitted opportunities, watch margin, settle funding. A single cycle lock
// guarantees cycles never overlap even if a cycle overruns the scan
// interval.
type Orchestrator struct {
	cfg       Config
	scorer    signals.Scorer
	manager   PositionManager
	risk      RiskChecker
	emergency EmergencyTrigger
	ledger    Ledger
	market    MarketData
	ticker    *exchange.TickerCache
	recorder  FundingRecorder

	cycleMu sync.Mutex

	recordMu     sync.Mutex
	lastRecorded time.Time

	overrideMu sync.Mutex
	pending    *Overrides
	paused     bool

	lastSettlement time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	now func() time.Time
}

func New(cfg Config, scorer signals.Scorer, manager PositionManager, risk RiskChecker, emergency EmergencyTrigger, ledger Ledger, market MarketData, ticker *exchange.TickerCache) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		scorer:    scorer,
		manager:   manager,
		risk:      risk,
		emergency: emergency,
		ledger:    ledger,
		market:    market,
		ticker:    ticker,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// WithFundingRecorder attaches funding-snapshot persistence. Snapshots are
// written at most once per snapshot interval, on the price refresh path.
func (o *Orchestrator) WithFundingRecorder(recorder FundingRecorder) *Orchestrator {
	o.recorder = recorder
	return o
}

// ApplyOverrides queues operator overrides for the next cycle start.
// Repeated calls before a cycle runs merge field-wise, last writer wins.
func (o *Orchestrator) ApplyOverrides(overrides Overrides) {
	o.overrideMu.Lock()
	defer o.overrideMu.Unlock()

	if o.pending == nil {
		o.pending = &Overrides{}
	}
	if overrides.Paused != nil {
		o.pending.Paused = overrides.Paused
	}
	if overrides.ScanInterval != nil {
		o.pending.ScanInterval = overrides.ScanInterval
	}
	if overrides.MaxPositionSizeUSD != nil {
		o.pending.MaxPositionSizeUSD = overrides.MaxPositionSizeUSD
	}
}

// takePending consumes queued overrides into live config. Returns true when
// the scan interval changed so the loop can reset its ticker.
func (o *Orchestrator) takePending() bool {
	o.overrideMu.Lock()
	defer o.overrideMu.Unlock()

	if o.pending == nil {
		return false
	}

	intervalChanged := false
	if o.pending.Paused != nil {
		o.paused = *o.pending.Paused
		logger.WithField("paused", o.paused).Info("pause override applied")
	}
	if o.pending.ScanInterval != nil && *o.pending.ScanInterval > 0 {
		o.cfg.ScanInterval = *o.pending.ScanInterval
		intervalChanged = true
		logger.WithField("scan_interval", o.cfg.ScanInterval.String()).Info("scan interval override applied")
	}
	if o.pending.MaxPositionSizeUSD != nil && o.pending.MaxPositionSizeUSD.Sign() > 0 {
		o.cfg.MaxPositionSizeUSD = *o.pending.MaxPositionSizeUSD
		logger.WithField("max_position_size_usd", o.cfg.MaxPositionSizeUSD.String()).Info("position size override applied")
	}

	o.pending = nil
	return intervalChanged
}

// Run drives the cycle loop until Stop is called or the context ends. The
// funding-settlement clock runs independently of the cycle cadence.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.doneCh)

	o.lastSettlement = o.now()

	go o.priceRefreshLoop(ctx)

	ticker := time.NewTicker(o.cfg.ScanInterval)
	defer ticker.Stop()

	logger.WithField("scan_interval", o.cfg.ScanInterval.String()).Info("trading loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("trading loop context done")
			return
		case <-o.stopCh:
			o.shutdownPositions(ctx)
			logger.Info("trading loop stopped")
			return
		case <-ticker.C:
			if o.takePending() {
				ticker.Reset(o.cfg.ScanInterval)
			}
			o.maybeSettleFunding(ctx)
			o.RunCycle(ctx)
		}
	}
}

// Stop performs graceful shutdown: the loop halts and every open position is
// closed sequentially through the normal manager path, without the emergency
// retry machinery. Blocks until shutdown completes.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	<-o.doneCh
}

// priceRefreshLoop keeps the ticker cache warm between cycles, independently
// of cycle cadence and pause state, so closes and the emergency path never
// starve on a stale price.
func (o *Orchestrator) priceRefreshLoop(ctx context.Context) {
	interval := o.cfg.PriceRefreshInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	o.refreshPrices(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.refreshPrices(ctx)
		}
	}
}

// refreshPrices pushes the current funding mark prices into the shared ticker
// cache for every tracked symbol, not just the ones being opened. When a
// recorder is attached, the same snapshot is persisted for replay, throttled
// to the snapshot interval.
func (o *Orchestrator) refreshPrices(ctx context.Context) {
	rates, err := o.market.GetFundingRates(ctx)
	if err != nil {
		logger.WithError(err).Error("price refresh failed")
		return
	}

	at := o.now()
	for _, rate := range rates {
		if rate.MarkPrice.Sign() <= 0 {
			continue
		}
		o.ticker.Update(rate.Symbol, rate.MarkPrice, at)
	}

	o.maybeRecordSnapshot(ctx, rates)
}

func (o *Orchestrator) maybeRecordSnapshot(ctx context.Context, rates []model.FundingRate) {
	if o.recorder == nil || len(rates) == 0 {
		return
	}

	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	if !o.lastRecorded.IsZero() && o.now().Sub(o.lastRecorded) < o.cfg.SnapshotInterval {
		return
	}

	if err := o.recorder.RecordFundingRates(ctx, rates); err != nil {
		logger.WithError(err).Error("funding snapshot persist failed")
		return
	}
	o.lastRecorded = o.now()
	logger.WithField("symbols", len(rates)).Debug("funding snapshot persisted")
}

func (o *Orchestrator) shutdownPositions(ctx context.Context) {
	o.refreshPrices(ctx)

	for _, pos := range o.manager.OpenPositions() {
		spotFill, perpFill, err := o.manager.Close(ctx, pos.ID)
		if err != nil {
			logger.WithError(err).WithFields(logger.Fields{
				"position_id": pos.ID,
				"perp_symbol": pos.PerpSymbol,
			}).Error("graceful close failed, position remains open")
			continue
		}
		o.ledger.RecordClose(pos.ID, spotFill.FilledPrice, perpFill.FilledPrice, spotFill.Fee.Add(perpFill.Fee))
	}
}

// maybeSettleFunding runs simulated funding settlement once the funding
// interval has elapsed since the last settlement, regardless of how many
// cycles ran in between.
func (o *Orchestrator) maybeSettleFunding(ctx context.Context) {
	if o.now().Sub(o.lastSettlement) < o.cfg.FundingInterval {
		return
	}

	rates, err := o.market.GetFundingRates(ctx)
	if err != nil {
		logger.WithError(err).Error("funding settlement skipped, rates unavailable")
		return
	}

	bySymbol := make(map[string]model.FundingRate, len(rates))
	for _, rate := range rates {
		bySymbol[rate.Symbol] = rate
	}

	total := o.ledger.SimulateFundingSettlement(o.manager.OpenPositions(), bySymbol)
	o.lastSettlement = o.now()

	logger.WithField("total", total.String()).Info("funding settlement applied")
}

// RunCycle executes one scan cycle. Exposed so the backtest harness can step
// the same logic against replayed history.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	if !o.cycleMu.TryLock() {
		logger.Warn("cycle still running, skipping tick")
		return
	}
	defer o.cycleMu.Unlock()

	o.refreshPrices(ctx)

	if o.paused {
		logger.Debug("trading paused, skipping cycle")
		return
	}
	if o.emergency.Triggered() {
		logger.Warn("emergency stop active, skipping cycle")
		return
	}

	scores, err := o.scorer.Opportunities(ctx)
	if err != nil {
		logger.WithError(err).Error("opportunity scan failed")
		return
	}
	if len(scores) == 0 {
		logger.Debug("no opportunities this cycle")
		return
	}

	o.closeExits(ctx)

	if !o.openAdmitted(ctx, scores) {
		return
	}

	o.logStatus()
}

// closeExits closes every open position whose signal fell below the exit
// condition or is simply unavailable.
func (o *Orchestrator) closeExits(ctx context.Context) {
	positions := o.manager.OpenPositions()
	if len(positions) == 0 {
		return
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.PerpSymbol)
	}

	exitSignals, err := o.scorer.ExitSignals(ctx, symbols)
	if err != nil {
		logger.WithError(err).Error("exit signal fetch failed, keeping positions")
		return
	}

	for _, pos := range positions {
		signal, ok := exitSignals[pos.PerpSymbol]
		if ok && !signal.ShouldExit {
			continue
		}

		reason := "signal below exit rate"
		if !ok {
			reason = "signal unavailable"
		}
		logger.WithFields(logger.Fields{
			"position_id": pos.ID,
			"perp_symbol": pos.PerpSymbol,
			"reason":      reason,
		}).Info("closing position")

		spotFill, perpFill, err := o.manager.Close(ctx, pos.ID)
		if err != nil {
			logger.WithError(err).WithField("position_id", pos.ID).Error("cycle close failed, will retry next cycle")
			continue
		}
		o.ledger.RecordClose(pos.ID, spotFill.FilledPrice, perpFill.FilledPrice, spotFill.Fee.Add(perpFill.Fee))
	}
}

// openAdmitted opens every opportunity that passes entry and risk admission,
// then checks the margin ratio. Returns false when margin went critical and
// the rest of the cycle must stop.
func (o *Orchestrator) openAdmitted(ctx context.Context, scores []model.OpportunityScore) bool {
	balance, err := o.market.GetAvailableBalance(ctx)
	if err != nil {
		logger.WithError(err).Error("balance fetch failed, skipping opens")
		return o.checkMargin(ctx)
	}

	for _, score := range scores {
		if !score.PassesEntry {
			continue
		}

		proposed := decimal.Min(o.cfg.MaxPositionSizeUSD, balance)
		verdict := o.risk.CanOpen(score.PerpSymbol, proposed, o.manager.OpenPositions())
		if !verdict.Allowed {
			logger.WithFields(logger.Fields{
				"symbol": score.PerpSymbol,
				"reason": verdict.Reason,
			}).Debug("open denied")
			continue
		}

		pos, err := o.openOne(ctx, score, balance)
		if err != nil {
			logger.WithError(err).WithField("symbol", score.PerpSymbol).Error("open failed")
			continue
		}

		o.ledger.RecordOpen(*pos)
		balance = balance.Sub(pos.Quantity.Mul(pos.SpotEntryPrice))
	}

	return o.checkMargin(ctx)
}

func (o *Orchestrator) openOne(ctx context.Context, score model.OpportunityScore, balance decimal.Decimal) (*model.Position, error) {
	spotInfo, err := o.market.GetInstrumentInfo(ctx, score.SpotSymbol, model.CategorySpot)
	if err != nil {
		return nil, err
	}
	perpInfo, err := o.market.GetInstrumentInfo(ctx, score.PerpSymbol, model.CategoryLinear)
	if err != nil {
		return nil, err
	}

	if perpPrice, err := o.market.GetTickerPrice(ctx, score.PerpSymbol, model.CategoryLinear); err == nil {
		o.ticker.Update(score.PerpSymbol, perpPrice, o.now())
	}
	if spotPrice, err := o.market.GetTickerPrice(ctx, score.SpotSymbol, model.CategorySpot); err == nil && score.SpotSymbol != score.PerpSymbol {
		o.ticker.Update(score.SpotSymbol, spotPrice, o.now())
	}

	return o.manager.Open(ctx, score.SpotSymbol, score.PerpSymbol, balance, *spotInfo, *perpInfo)
}

// checkMargin reads the margin ratio; on critical it fires the emergency
// stop and returns false to end the cycle. Alert level is logged by the risk
// manager and trading continues.
func (o *Orchestrator) checkMargin(ctx context.Context) bool {
	ratio, _, err := o.risk.MarginRatio(ctx)
	if err != nil {
		logger.WithError(err).Error("margin check failed")
		return true
	}

	if o.risk.IsMarginCritical(ratio) {
		logger.WithField("mm_rate", ratio.String()).Error("margin critical, triggering emergency stop")
		o.emergency.Trigger(ctx, "margin ratio critical: "+ratio.String())
		return false
	}

	return true
}

func (o *Orchestrator) logStatus() {
	positions := o.manager.OpenPositions()

	fields := logger.Fields{"open_positions": len(positions)}
	for _, pos := range positions {
		fields["pos_"+pos.PerpSymbol] = pos.Quantity.String()
	}
	logger.WithFields(fields).Info("cycle complete")
}
