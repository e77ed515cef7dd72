package position

import (
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
)

// DeltaValidator is the sole authority on whether a filled pair of legs
// constitutes an acceptable hedge.
type DeltaValidator struct {
	tolerance decimal.Decimal
	now       func() time.Time
}

func NewDeltaValidator(tolerance decimal.Decimal) *DeltaValidator {
	return &DeltaValidator{tolerance: tolerance, now: time.Now}
}

// Check computes drift = |spotQty - perpQty| / max(spotQty, perpQty), zero
// when both quantities are zero, and compares it inclusively against the
// configured tolerance.
func (v *DeltaValidator) Check(spotQty, perpQty decimal.Decimal) model.DeltaStatus {
	maxQty := decimal.Max(spotQty, perpQty)

	drift := decimal.Zero
	if maxQty.Sign() > 0 {
		drift = spotQty.Sub(perpQty).Abs().Div(maxQty)
	}

	status := model.DeltaStatus{
		SpotQty:           spotQty,
		PerpQty:           perpQty,
		DriftPct:          drift,
		IsWithinTolerance: drift.LessThanOrEqual(v.tolerance),
		CheckedAt:         v.now(),
	}

	if !status.IsWithinTolerance {
		logger.WithFields(logger.Fields{
			"drift_pct": drift.String(),
			"tolerance": v.tolerance.String(),
			"spot_qty":  spotQty.String(),
			"perp_qty":  perpQty.String(),
		}).Warn("delta drift exceeded")
	}

	return status
}

// CheckPosition runs Check with the position's ID stamped on the result.
func (v *DeltaValidator) CheckPosition(pos model.Position, spotQty, perpQty decimal.Decimal) model.DeltaStatus {
	status := v.Check(spotQty, perpQty)
	status.PositionID = pos.ID
	return status
}
