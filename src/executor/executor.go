package executor

import (
	"context"
	"errors"

	"fundingarb/src/model"
)

// ErrPriceUnavailable means no reference price exists for the requested
// symbol. Only simulated backends produce it; live backends propagate the
// exchange's own errors.
var ErrPriceUnavailable = errors.New("price unavailable")

// Executor places and cancels orders. All position-management code depends
// only on this interface; the concrete backend (paper, live, backtest) is
// injected at startup and nothing above this layer may branch on which one
// is installed.
type Executor interface {
	// PlaceOrder executes an order and returns the complete fill. A call
	// either returns a full OrderResult or fails entirely; no partial state
	// is visible to the caller.
	PlaceOrder(ctx context.Context, request model.OrderRequest) (*model.OrderResult, error)

	// CancelOrder attempts to cancel an open order. The bool is the
	// backend-acknowledged outcome; the error carries transport failures.
	CancelOrder(ctx context.Context, orderID, symbol, category string) (bool, error)
}
