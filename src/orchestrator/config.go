package orchestrator

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	ScanInterval         time.Duration   `envconfig:"TRADING_SCAN_INTERVAL" default:"60s"`
	FundingInterval      time.Duration   `envconfig:"TRADING_FUNDING_INTERVAL" default:"8h"`
	PriceRefreshInterval time.Duration   `envconfig:"TRADING_PRICE_REFRESH_INTERVAL" default:"15s"`
	SnapshotInterval     time.Duration   `envconfig:"TRADING_SNAPSHOT_INTERVAL" default:"1h"`
	MaxPositionSizeUSD   decimal.Decimal `envconfig:"TRADING_MAX_POSITION_SIZE_USD" default:"1000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
