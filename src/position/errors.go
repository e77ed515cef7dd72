package position

import "errors"

var (
	// ErrInsufficientSize means the computed quantity fell below the
	// instrument minimums; no order was submitted.
	ErrInsufficientSize = errors.New("calculated quantity below exchange minimums")

	// ErrHedgeTimeout means the concurrent two-leg submission did not
	// complete within the shared timeout. In-flight orders are NOT cancelled
	// or investigated; either leg may still fill on the exchange afterwards.
	// Known reconciliation gap.
	ErrHedgeTimeout = errors.New("hedge order placement timed out")

	// ErrHedgeError means one leg failed while the other filled. A
	// best-effort reversing order was already attempted for the filled leg
	// before this error was raised.
	ErrHedgeError = errors.New("partial failure during hedge")

	// ErrDeltaDriftExceeded means the two fills diverged beyond tolerance.
	// Both legs were already closed best-effort at their filled quantities.
	ErrDeltaDriftExceeded = errors.New("delta drift exceeds tolerance")

	// ErrPositionNotFound means the requested position ID is not in the
	// registry.
	ErrPositionNotFound = errors.New("position not found")
)
