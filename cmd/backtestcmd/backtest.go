package backtestcmd

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"fundingarb/src/backtest"
	"fundingarb/src/orchestrator"
	"fundingarb/src/pnl"
	"fundingarb/src/position"
	"fundingarb/src/repository"
	"fundingarb/src/risk"
	"fundingarb/src/signals"
)

// Backtest replays stored funding history through the live execution core
// and reports the resulting portfolio.
type Backtest struct {
	Log *logger.Entry
}

func (b *Backtest) Start() error {
	cfg := GetConfig()
	tradingCfg := position.GetConfig()

	opts := backtest.Options{
		StartBalance:       cfg.StartBalance,
		MaxPositionSizeUSD: orchestrator.GetConfig().MaxPositionSizeUSD,
		DriftTolerance:     tradingCfg.DeltaDriftTolerance,
		Scorer:             signals.GetConfig(),
		Risk:               risk.GetConfig(),
		Fees:               pnl.GetConfig(),
	}

	engine := backtest.NewEngine(repository.NewFundingRateRepository(), repository.NewKlineRepository(), opts)

	result, err := engine.Run(context.Background(), cfg.From, cfg.To)
	if err != nil {
		b.Log.WithError(err).Error("replay failed")
		return err
	}

	b.Log.WithFields(logger.Fields{
		"steps":             result.Steps,
		"final_balance":     result.FinalBalance.String(),
		"closed_positions":  result.Portfolio.ClosedPositions,
		"funding_collected": result.Portfolio.FundingCollected.String(),
		"fees_paid":         result.Portfolio.FeesPaid.String(),
		"realized_pnl":      result.Portfolio.RealizedPnL.String(),
	}).Info("replay complete")

	return nil
}
