package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
)

// MarginProvider supplies the account maintenance-margin utilization.
// Implemented by the live exchange client; paper mode supplies a MarginFunc
// built over the simulated account instead.
type MarginProvider interface {
	MarginRatio(ctx context.Context) (decimal.Decimal, error)
}

// MarginFunc adapts a plain function to the MarginProvider interface.
type MarginFunc func(ctx context.Context) (decimal.Decimal, error)

func (f MarginFunc) MarginRatio(ctx context.Context) (decimal.Decimal, error) {
	return f(ctx)
}

// Manager performs pre-trade admission control and margin-ratio monitoring.
// Admission checks are cheap, synchronous, and read fresh state on every
// call; there is no cached risk state to go stale.
type Manager struct {
	cfg    Config
	margin MarginProvider
}

func NewManager(cfg Config, margin MarginProvider) *Manager {
	return &Manager{cfg: cfg, margin: margin}
}

// CanOpen decides whether a new position may be opened. The four checks are
// independent and the first failing check's reason is returned.
func (m *Manager) CanOpen(symbol string, positionSizeUSD decimal.Decimal, openPositions []model.Position) model.RiskVerdict {
	if positionSizeUSD.Sign() <= 0 {
		return model.RiskVerdict{Allowed: false, Reason: "position size must be positive"}
	}

	if positionSizeUSD.GreaterThan(m.cfg.MaxPositionSizePerPair) {
		return model.RiskVerdict{
			Allowed: false,
			Reason:  fmt.Sprintf("exceeds max per-pair size: %s", m.cfg.MaxPositionSizePerPair),
		}
	}

	if len(openPositions) >= m.cfg.MaxSimultaneousPositions {
		return model.RiskVerdict{
			Allowed: false,
			Reason:  fmt.Sprintf("at max positions: %d", m.cfg.MaxSimultaneousPositions),
		}
	}

	for _, pos := range openPositions {
		if pos.PerpSymbol == symbol {
			return model.RiskVerdict{
				Allowed: false,
				Reason:  fmt.Sprintf("already have position in %s", symbol),
			}
		}
	}

	return model.RiskVerdict{Allowed: true}
}

// MarginRatio reads the current maintenance-margin utilization and reports
// whether it has reached the alert threshold (inclusive).
func (m *Manager) MarginRatio(ctx context.Context) (decimal.Decimal, bool, error) {
	if m.margin == nil {
		return decimal.Zero, false, nil
	}

	ratio, err := m.margin.MarginRatio(ctx)
	if err != nil {
		return decimal.Zero, false, err
	}

	isAlert := ratio.GreaterThanOrEqual(m.cfg.MarginAlertThreshold)
	if isAlert {
		logger.WithFields(logger.Fields{
			"mm_rate":   ratio.String(),
			"threshold": m.cfg.MarginAlertThreshold.String(),
		}).Warn("margin alert")
	}

	return ratio, isAlert, nil
}

// IsMarginCritical reports whether a margin ratio has reached the critical
// threshold (inclusive). The orchestrator uses this to trigger the
// emergency stop.
func (m *Manager) IsMarginCritical(ratio decimal.Decimal) bool {
	return ratio.GreaterThanOrEqual(m.cfg.MarginCriticalThreshold)
}
