package position

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	MaxPositionSizeUSD  decimal.Decimal `envconfig:"TRADING_MAX_POSITION_SIZE_USD" default:"1000"`
	DeltaDriftTolerance decimal.Decimal `envconfig:"TRADING_DELTA_DRIFT_TOLERANCE" default:"0.02"`
	OrderTimeout        time.Duration   `envconfig:"TRADING_ORDER_TIMEOUT" default:"5s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
