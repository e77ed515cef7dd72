package pnl

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	SpotTakerRate     decimal.Decimal `envconfig:"FEES_SPOT_TAKER_RATE" default:"0.001"`
	PerpTakerRate     decimal.Decimal `envconfig:"FEES_PERP_TAKER_RATE" default:"0.00055"`
	MinHoldingPeriods int             `envconfig:"FEES_MIN_HOLDING_PERIODS" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
