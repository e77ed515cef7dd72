package backtestcmd

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	From         time.Time       `envconfig:"BACKTEST_FROM" default:"2026-01-01T00:00:00Z"`
	To           time.Time       `envconfig:"BACKTEST_TO" default:"2026-02-01T00:00:00Z"`
	StartBalance decimal.Decimal `envconfig:"BACKTEST_START_BALANCE" default:"10000"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
