package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
)

// PositionCloser is the slice of the position manager the emergency
// controller needs. Satisfied by *position.Manager.
type PositionCloser interface {
	OpenPositions() []model.Position
	Close(ctx context.Context, positionID string) (*model.OrderResult, *model.OrderResult, error)
}

// CloseLedger records closes for P&L bookkeeping. Satisfied by *pnl.Tracker.
type CloseLedger interface {
	RecordClose(positionID string, spotExitPrice, perpExitPrice, exitFee decimal.Decimal)
}

// EmergencyController closes every open position at once, each with bounded
// retries, then invokes a shutdown callback exactly once. The triggered
// flag is instance state so tests can build isolated controllers; it is
// reset only by explicit operator action.
type EmergencyController struct {
	closer     PositionCloser
	ledger     CloseLedger
	shutdown   func()
	maxRetries int
	baseDelay  time.Duration

	triggered atomic.Bool
}

func NewEmergencyController(closer PositionCloser, ledger CloseLedger, shutdown func(), maxRetries int, baseDelay time.Duration) *EmergencyController {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &EmergencyController{
		closer:     closer,
		ledger:     ledger,
		shutdown:   shutdown,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Trigger starts the emergency stop. A second call while already triggered
// is a no-op returning two empty lists. Every open position gets its own
// close goroutine with independent retries; one position's failure never
// cancels the others. The shutdown callback runs exactly once after all
// close attempts settle, however many failed. Positions that exhausted
// their retries are reported at the highest severity with symbol and
// quantity so an operator can close them manually.
func (e *EmergencyController) Trigger(ctx context.Context, reason string) (closedIDs, failedIDs []string) {
	if !e.triggered.CompareAndSwap(false, true) {
		logger.Warn("emergency stop already triggered")
		return []string{}, []string{}
	}

	logger.WithField("reason", reason).Error("EMERGENCY STOP TRIGGERED")

	positions := e.closer.OpenPositions()
	if len(positions) == 0 {
		logger.Info("emergency stop: no open positions")
		e.shutdown()
		return []string{}, []string{}
	}

	type closeOutcome struct {
		position model.Position
		err      error
	}

	outcomes := make([]closeOutcome, len(positions))
	var wg sync.WaitGroup
	for i, pos := range positions {
		wg.Add(1)
		go func(i int, pos model.Position) {
			defer wg.Done()
			outcomes[i] = closeOutcome{position: pos, err: e.closeWithRetry(ctx, pos)}
		}(i, pos)
	}
	wg.Wait()

	closedIDs = make([]string, 0, len(positions))
	failedIDs = make([]string, 0)
	for _, outcome := range outcomes {
		if outcome.err != nil {
			failedIDs = append(failedIDs, outcome.position.ID)
			logger.WithError(outcome.err).WithFields(logger.Fields{
				"position_id": outcome.position.ID,
				"perp_symbol": outcome.position.PerpSymbol,
				"quantity":    outcome.position.Quantity.String(),
			}).Error("CRITICAL: emergency close failed all retries, close manually")
		} else {
			closedIDs = append(closedIDs, outcome.position.ID)
		}
	}

	e.shutdown()

	logger.WithFields(logger.Fields{
		"closed": len(closedIDs),
		"failed": len(failedIDs),
	}).Info("emergency stop complete")

	return closedIDs, failedIDs
}

// closeWithRetry closes one position with up to maxRetries attempts and a
// linearly increasing delay between them (baseDelay * attempt number, no
// cap, no jitter).
func (e *EmergencyController) closeWithRetry(ctx context.Context, pos model.Position) error {
	var lastErr error

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		spotFill, perpFill, err := e.closer.Close(ctx, pos.ID)
		if err == nil {
			if e.ledger != nil {
				e.ledger.RecordClose(pos.ID, spotFill.FilledPrice, perpFill.FilledPrice, spotFill.Fee.Add(perpFill.Fee))
			}
			logger.WithFields(logger.Fields{
				"position_id": pos.ID,
				"attempt":     attempt,
			}).Info("emergency position closed")
			return nil
		}

		lastErr = err
		logger.WithError(err).WithFields(logger.Fields{
			"position_id": pos.ID,
			"attempt":     attempt,
			"max_retries": e.maxRetries,
		}).Warn("emergency close retry")

		if attempt < e.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.baseDelay * time.Duration(attempt)):
			}
		}
	}

	return lastErr
}

// Triggered reports whether the emergency stop has fired.
func (e *EmergencyController) Triggered() bool {
	return e.triggered.Load()
}

// Reset clears the triggered flag. Recovery tooling only.
func (e *EmergencyController) Reset() {
	e.triggered.Store(false)
}
