package bot

import (
	"context"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/database"
	"fundingarb/src/exchange"
	"fundingarb/src/executor"
	"fundingarb/src/orchestrator"
	"fundingarb/src/pnl"
	"fundingarb/src/position"
	"fundingarb/src/repository"
	"fundingarb/src/risk"
	"fundingarb/src/server"
	"fundingarb/src/signals"
)

// Bot wires the full trading stack and runs it until a shutdown signal.
// Paper mode fills against the shared ticker cache with a virtual balance;
// live mode routes orders to the exchange. Everything in between is the
// same code either way.
type Bot struct{}

func (b *Bot) Start() error {
	cfg := GetConfig()
	tradingCfg := position.GetConfig()
	riskCfg := risk.GetConfig()
	feeCfg := pnl.GetConfig()

	client := exchange.NewClient(exchange.GetConfig())
	ticker := exchange.NewTickerCache()

	// manager and orch are captured by closures below before they are
	// built; both exist by the time any closure runs.
	var (
		manager *position.Manager
		orch    *orchestrator.Orchestrator
	)

	var (
		exec   executor.Executor
		margin risk.MarginProvider
	)
	switch cfg.Mode {
	case "live":
		exec = executor.NewLiveExecutor(client)
		margin = client
		logger.Warn("LIVE trading mode, real orders will be placed")
	default:
		paper := executor.NewPaperExecutor(ticker, feeCfg.SpotTakerRate, feeCfg.PerpTakerRate)
		paper.SetInitialBalance(cfg.Quote, riskCfg.PaperVirtualEquity)
		exec = paper
		margin = risk.MarginFunc(func(_ context.Context) (decimal.Decimal, error) {
			open := len(manager.OpenPositions())
			return executor.SimulatePaperMargin(open, tradingCfg.MaxPositionSizeUSD, riskCfg.PaperVirtualEquity), nil
		})
		logger.Info("paper trading mode")
	}

	sizer := position.NewSizer(tradingCfg.MaxPositionSizeUSD)
	validator := position.NewDeltaValidator(tradingCfg.DeltaDriftTolerance)
	manager = position.NewManager(exec, sizer, validator, ticker, tradingCfg.OrderTimeout)

	feeCalc := pnl.NewFeeCalculator(feeCfg)
	tracker := pnl.NewTracker(feeCalc)
	scorer := signals.NewFundingScorer(client, signals.GetConfig(), feeCalc, feeCfg.MinHoldingPeriods)
	riskManager := risk.NewManager(riskCfg, margin)

	emergency := risk.NewEmergencyController(manager, tracker, func() {
		logger.Error("emergency shutdown, halting trading loop")
		go orch.Stop()
	}, riskCfg.EmergencyMaxRetries, riskCfg.EmergencyRetryBaseDelay)

	orch = orchestrator.New(orchestrator.GetConfig(), scorer, manager, riskManager, emergency, tracker, client, ticker)
	if database.GetConfig().EnableDB {
		orch.WithFundingRecorder(repository.NewFundingRateRepository())
		logger.Info("funding snapshot recording enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orch.Run(ctx)

	// blocks until SIGINT/SIGTERM
	api := server.NewServer(server.GetConfig(), manager, tracker, orch, emergency)
	api.Start()

	orch.Stop()
	return nil
}
