package signals

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	MinEntryRate decimal.Decimal `envconfig:"SIGNALS_MIN_ENTRY_RATE" default:"0.0001"`
	ExitRate     decimal.Decimal `envconfig:"SIGNALS_EXIT_RATE" default:"0.00005"`
	MinVolume24h decimal.Decimal `envconfig:"SIGNALS_MIN_VOLUME_24H" default:"1000000"`
	RateCap      decimal.Decimal `envconfig:"SIGNALS_RATE_CAP" default:"0.01"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
