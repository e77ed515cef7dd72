package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	MaxPositionSizePerPair   decimal.Decimal `envconfig:"RISK_MAX_POSITION_SIZE_PER_PAIR" default:"1000"`
	MaxSimultaneousPositions int             `envconfig:"RISK_MAX_SIMULTANEOUS_POSITIONS" default:"5"`
	MarginAlertThreshold     decimal.Decimal `envconfig:"RISK_MARGIN_ALERT_THRESHOLD" default:"0.8"`
	MarginCriticalThreshold  decimal.Decimal `envconfig:"RISK_MARGIN_CRITICAL_THRESHOLD" default:"0.9"`
	EmergencyMaxRetries      int             `envconfig:"RISK_EMERGENCY_MAX_RETRIES" default:"3"`
	EmergencyRetryBaseDelay  time.Duration   `envconfig:"RISK_EMERGENCY_RETRY_BASE_DELAY" default:"1s"`
	PaperVirtualEquity       decimal.Decimal `envconfig:"RISK_PAPER_VIRTUAL_EQUITY" default:"10000"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
