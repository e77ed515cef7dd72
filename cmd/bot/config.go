package bot

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Mode  string `envconfig:"TRADING_MODE" default:"paper"` // "paper" or "live"
	Quote string `envconfig:"TRADING_QUOTE_CURRENCY" default:"USDT"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
