package main

import (
	"fmt"
	"os"

	"fundingarb/cmd/backtestcmd"
	"fundingarb/cmd/bot"
	"fundingarb/cmd/markethistory"
	"fundingarb/src/database"
	"fundingarb/src/repository"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Fundingarb CMD"
	app.Usage = "The funding arbitrage command line interface"

	app.Commands = []cli.Command{
		botCMD,
		backtestCMD,
		marketHistoryCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	botCMD = cli.Command{
		Name:        "bot",
		Usage:       "run the trading bot",
		Action:      botAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the delta-neutral funding arbitrage bot`,
	}
	backtestCMD = cli.Command{
		Name:        "backtest",
		Usage:       "replay stored funding history",
		Action:      backtestAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Replay stored funding history through the execution core`,
	}
	marketHistoryCMD = cli.Command{
		Name:        "markethistory",
		Usage:       "backfill kline history",
		Action:      marketHistoryAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Backfill kline history into the database`,
	}
)

func botAction(_ *cli.Context) error {

	logrus.Info("Starting bot CMD")
	logrus.WithField("cmd", "bot")

	if database.GetConfig().EnableDB {
		database.InitDB()
	}

	tradingBot := &bot.Bot{}
	err := tradingBot.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func backtestAction(_ *cli.Context) error {

	logrus.Info("Starting backtest CMD")
	database.InitDB()

	replay := &backtestcmd.Backtest{
		Log: logrus.WithField("cmd", "backtest"),
	}

	err := replay.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

// marketHistoryAction backfills kline candles for the configured pair.
func marketHistoryAction(_ *cli.Context) error {

	logrus.Info("Starting market history CMD")
	database.InitDB()

	history := &markethistory.MarketHistory{
		Log:  logrus.WithField("cmd", "markethistory"),
		Repo: repository.NewKlineRepository(),
	}

	err := history.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting market history cmd")
		return err
	}

	return nil
}
