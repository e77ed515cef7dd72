package position

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
	"fundingarb/src/executor"
	"fundingarb/src/model"
)

// Manager owns the atomic open/close protocol for delta-neutral positions
// and the in-memory registry of live positions. A single mutex serializes
// every open and close call, so two concurrent operations can never race on
// the registry or over-commit balance.
//
// Open walks PRICING -> SIZING -> EXECUTING -> VALIDATING and ends in one of
// COMMITTED, ROLLED_BACK, or FAILED. A Position object only ever exists for
// the COMMITTED outcome; partial fills are resolved by rollback before any
// registration happens.
type Manager struct {
	executor  executor.Executor
	sizer     *Sizer
	validator *DeltaValidator
	ticker    *exchange.TickerCache

	orderTimeout time.Duration

	mu        sync.Mutex
	positions map[string]model.Position

	now   func() time.Time
	newID func() string
}

func NewManager(exec executor.Executor, sizer *Sizer, validator *DeltaValidator, ticker *exchange.TickerCache, orderTimeout time.Duration) *Manager {
	return &Manager{
		executor:     exec,
		sizer:        sizer,
		validator:    validator,
		ticker:       ticker,
		orderTimeout: orderTimeout,
		positions:    make(map[string]model.Position),
		now:          time.Now,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		},
	}
}

// pairOutcome tags the three possible results of a concurrent two-leg
// submission: both legs returned, or the shared timeout expired first.
type pairOutcome struct {
	timedOut bool
	spot     *model.OrderResult
	perp     *model.OrderResult
	spotErr  error
	perpErr  error
}

type legFill struct {
	isSpot bool
	result *model.OrderResult
	err    error
}

// submitPair places both leg orders concurrently under one shared timeout.
// Both orders are submitted before either is awaited; there is no ordering
// guarantee between the fills. The timeout bounds the whole pair, not each
// leg: on expiry the call gives up waiting but makes no attempt to cancel or
// abort the in-flight exchange orders, so either leg may still fill on the
// exchange afterwards (known reconciliation gap).
func (m *Manager) submitPair(ctx context.Context, spotReq, perpReq model.OrderRequest) pairOutcome {
	fills := make(chan legFill, 2)

	place := func(isSpot bool, req model.OrderRequest) {
		result, err := m.executor.PlaceOrder(ctx, req)
		fills <- legFill{isSpot: isSpot, result: result, err: err}
	}
	go place(true, spotReq)
	go place(false, perpReq)

	timer := time.NewTimer(m.orderTimeout)
	defer timer.Stop()

	var outcome pairOutcome
	for i := 0; i < 2; i++ {
		select {
		case fill := <-fills:
			if fill.isSpot {
				outcome.spot, outcome.spotErr = fill.result, fill.err
			} else {
				outcome.perp, outcome.perpErr = fill.result, fill.err
			}
		case <-timer.C:
			outcome.timedOut = true
			return outcome
		}
	}

	return outcome
}

// Open opens a delta-neutral position: spot buy plus perp sell of one
// matched quantity, placed concurrently. The position is registered only
// after both fills pass delta validation.
func (m *Manager) Open(ctx context.Context, spotSymbol, perpSymbol string, availableBalance decimal.Decimal, spotInfo, perpInfo model.InstrumentInfo) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// PRICING: perp price first, spot as fallback.
	price, ok := m.ticker.Price(perpSymbol)
	if !ok {
		price, ok = m.ticker.Price(spotSymbol)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s or %s", executor.ErrPriceUnavailable, perpSymbol, spotSymbol)
	}

	// SIZING
	quantity, ok := m.sizer.MatchingQuantity(price, availableBalance, spotInfo, perpInfo)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s at price %s", ErrInsufficientSize, spotSymbol, perpSymbol, price)
	}

	spotReq := model.OrderRequest{
		Symbol:   spotSymbol,
		Side:     model.SideBuy,
		Type:     model.OrderTypeMarket,
		Quantity: quantity,
		Category: model.CategorySpot,
	}
	perpReq := model.OrderRequest{
		Symbol:   perpSymbol,
		Side:     model.SideSell,
		Type:     model.OrderTypeMarket,
		Quantity: quantity,
		Category: model.CategoryLinear,
	}

	// EXECUTING
	outcome := m.submitPair(ctx, spotReq, perpReq)

	if outcome.timedOut {
		logger.WithFields(logger.Fields{
			"spot_symbol": spotSymbol,
			"perp_symbol": perpSymbol,
			"timeout":     m.orderTimeout.String(),
		}).Error("hedge order placement timed out")
		return nil, fmt.Errorf("%w after %s for %s/%s", ErrHedgeTimeout, m.orderTimeout, spotSymbol, perpSymbol)
	}

	if outcome.spotErr != nil || outcome.perpErr != nil {
		logger.WithFields(logger.Fields{
			"spot_symbol": spotSymbol,
			"perp_symbol": perpSymbol,
			"spot_err":    fmt.Sprint(outcome.spotErr),
			"perp_err":    fmt.Sprint(outcome.perpErr),
		}).Error("hedge partial failure")

		if outcome.spot != nil && outcome.perpErr != nil {
			m.rollbackLeg(ctx, outcome.spot, model.CategorySpot, model.SideSell)
		} else if outcome.perp != nil && outcome.spotErr != nil {
			m.rollbackLeg(ctx, outcome.perp, model.CategoryLinear, model.SideBuy)
		}

		firstErr := outcome.spotErr
		if firstErr == nil {
			firstErr = outcome.perpErr
		}
		return nil, fmt.Errorf("%w for %s/%s: %v", ErrHedgeError, spotSymbol, perpSymbol, firstErr)
	}

	// VALIDATING
	status := m.validator.Check(outcome.spot.FilledQty, outcome.perp.FilledQty)
	if !status.IsWithinTolerance {
		logger.WithFields(logger.Fields{
			"drift_pct": status.DriftPct.String(),
			"spot_qty":  outcome.spot.FilledQty.String(),
			"perp_qty":  outcome.perp.FilledQty.String(),
		}).Error("delta drift exceeded on open, unwinding both legs")

		m.unwindLegs(ctx, spotSymbol, perpSymbol, outcome.spot.FilledQty, outcome.perp.FilledQty)
		return nil, fmt.Errorf("%w: drift %s on %s/%s", ErrDeltaDriftExceeded, status.DriftPct, spotSymbol, perpSymbol)
	}

	// COMMITTED
	pos := model.Position{
		ID:             m.newID(),
		SpotSymbol:     spotSymbol,
		PerpSymbol:     perpSymbol,
		Side:           model.PositionSideShort, // long spot + short perp
		Quantity:       outcome.spot.FilledQty,
		PerpQuantity:   outcome.perp.FilledQty,
		SpotEntryPrice: outcome.spot.FilledPrice,
		PerpEntryPrice: outcome.perp.FilledPrice,
		SpotOrderID:    outcome.spot.OrderID,
		PerpOrderID:    outcome.perp.OrderID,
		OpenedAt:       m.now(),
		EntryFeeTotal:  outcome.spot.Fee.Add(outcome.perp.Fee),
	}
	m.positions[pos.ID] = pos

	logger.WithFields(logger.Fields{
		"position_id": pos.ID,
		"spot_symbol": spotSymbol,
		"perp_symbol": perpSymbol,
		"quantity":    pos.Quantity.String(),
		"spot_price":  pos.SpotEntryPrice.String(),
		"perp_price":  pos.PerpEntryPrice.String(),
		"entry_fee":   pos.EntryFeeTotal.String(),
	}).Info("position opened")

	result := pos
	return &result, nil
}

// Close reverses both legs of a registered position (spot sell, perp buy)
// under the same concurrent-with-timeout discipline. The position stays in
// the registry unless the close succeeds, so a caller can safely retry.
// The two fills are returned for downstream fee and funding accounting.
func (m *Manager) Close(ctx context.Context, positionID string) (*model.OrderResult, *model.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[positionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	spotReq := model.OrderRequest{
		Symbol:   pos.SpotSymbol,
		Side:     model.SideSell,
		Type:     model.OrderTypeMarket,
		Quantity: pos.Quantity,
		Category: model.CategorySpot,
	}
	perpQty := pos.PerpQuantity
	if perpQty.IsZero() {
		perpQty = pos.Quantity
	}
	perpReq := model.OrderRequest{
		Symbol:   pos.PerpSymbol,
		Side:     model.SideBuy,
		Type:     model.OrderTypeMarket,
		Quantity: perpQty,
		Category: model.CategoryLinear,
	}

	outcome := m.submitPair(ctx, spotReq, perpReq)

	if outcome.timedOut {
		return nil, nil, fmt.Errorf("%w closing position %s", ErrHedgeTimeout, positionID)
	}
	if outcome.spotErr != nil || outcome.perpErr != nil {
		firstErr := outcome.spotErr
		if firstErr == nil {
			firstErr = outcome.perpErr
		}
		logger.WithError(firstErr).WithField("position_id", positionID).
			Error("close leg failed, position kept for retry")
		return nil, nil, fmt.Errorf("%w closing position %s: %v", ErrHedgeError, positionID, firstErr)
	}

	delete(m.positions, positionID)

	logger.WithFields(logger.Fields{
		"position_id": positionID,
		"spot_symbol": pos.SpotSymbol,
		"perp_symbol": pos.PerpSymbol,
		"quantity":    pos.Quantity.String(),
	}).Info("position closed")

	return outcome.spot, outcome.perp, nil
}

// OpenPositions returns read-only snapshots of every live position.
func (m *Manager) OpenPositions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	return out
}

// AuditDeltas re-validates the recorded leg quantities of every live
// position. A position whose fills drifted at open keeps that drift for life,
// so the audit surfaces it to the operator instead of silently carrying it.
func (m *Manager) AuditDeltas() []model.DeltaStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.DeltaStatus, 0, len(m.positions))
	for _, pos := range m.positions {
		perpQty := pos.PerpQuantity
		if perpQty.IsZero() {
			perpQty = pos.Quantity
		}
		out = append(out, m.validator.CheckPosition(pos, pos.Quantity, perpQty))
	}
	return out
}

// Position looks up a single position snapshot by ID.
func (m *Manager) Position(positionID string) (model.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	return pos, ok
}

// rollbackLeg reverses a filled leg after the other leg failed. Best effort:
// the outcome is logged and the hedge error is raised regardless.
func (m *Manager) rollbackLeg(ctx context.Context, filled *model.OrderResult, category, reverseSide string) {
	req := model.OrderRequest{
		Symbol:   filled.Symbol,
		Side:     reverseSide,
		Type:     model.OrderTypeMarket,
		Quantity: filled.FilledQty,
		Category: category,
	}

	if _, err := m.executor.PlaceOrder(ctx, req); err != nil {
		logger.WithError(err).WithFields(logger.Fields{
			"original_order_id": filled.OrderID,
			"symbol":            filled.Symbol,
			"category":          category,
		}).Error("rollback failed")
		return
	}

	logger.WithFields(logger.Fields{
		"original_order_id": filled.OrderID,
		"symbol":            filled.Symbol,
		"category":          category,
	}).Info("rollback succeeded")
}

// unwindLegs closes both legs at whatever quantities actually filled, used
// when delta validation rejects the pair. Best effort.
func (m *Manager) unwindLegs(ctx context.Context, spotSymbol, perpSymbol string, spotQty, perpQty decimal.Decimal) {
	spotClose := model.OrderRequest{
		Symbol:   spotSymbol,
		Side:     model.SideSell,
		Type:     model.OrderTypeMarket,
		Quantity: spotQty,
		Category: model.CategorySpot,
	}
	perpClose := model.OrderRequest{
		Symbol:   perpSymbol,
		Side:     model.SideBuy,
		Type:     model.OrderTypeMarket,
		Quantity: perpQty,
		Category: model.CategoryLinear,
	}

	var wg sync.WaitGroup
	var spotErr, perpErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, spotErr = m.executor.PlaceOrder(ctx, spotClose)
	}()
	go func() {
		defer wg.Done()
		_, perpErr = m.executor.PlaceOrder(ctx, perpClose)
	}()
	wg.Wait()

	if spotErr != nil || perpErr != nil {
		logger.WithFields(logger.Fields{
			"spot_symbol": spotSymbol,
			"perp_symbol": perpSymbol,
			"spot_err":    fmt.Sprint(spotErr),
			"perp_err":    fmt.Sprint(perpErr),
		}).Error("drift unwind failed")
		return
	}

	logger.WithFields(logger.Fields{
		"spot_symbol": spotSymbol,
		"perp_symbol": perpSymbol,
	}).Info("drift unwind succeeded")
}
