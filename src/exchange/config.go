package exchange

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIKey     string        `envconfig:"BYBIT_API_KEY"`
	APISecret  string        `envconfig:"BYBIT_API_SECRET"`
	BaseURL    string        `envconfig:"BYBIT_BASE_URL" default:"https://api-testnet.bybit.com"`
	RecvWindow int           `envconfig:"BYBIT_RECV_WINDOW" default:"5000"`
	Timeout    time.Duration `envconfig:"BYBIT_HTTP_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
