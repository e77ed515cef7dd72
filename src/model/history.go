package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one OHLCV candle persisted for backtest replay. Unique on
// (datetime, symbol) so backfills can upsert.
type Kline struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	Datetime time.Time       `gorm:"uniqueIndex:idx_klines_datetime_symbol" json:"datetime"`
	Symbol   string          `gorm:"size:40;uniqueIndex:idx_klines_datetime_symbol" json:"symbol"`
	Open     decimal.Decimal `gorm:"type:numeric" json:"open"`
	High     decimal.Decimal `gorm:"type:numeric" json:"high"`
	Low      decimal.Decimal `gorm:"type:numeric" json:"low"`
	Close    decimal.Decimal `gorm:"type:numeric" json:"close"`
	Volume   decimal.Decimal `gorm:"type:numeric" json:"volume"`
}

func (Kline) TableName() string {
	return "klines"
}

// FundingRateRecord is a persisted funding-rate snapshot, unique on
// (datetime, symbol), replayed by the backtest engine.
type FundingRateRecord struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Datetime  time.Time       `gorm:"uniqueIndex:idx_funding_datetime_symbol" json:"datetime"`
	Symbol    string          `gorm:"size:40;uniqueIndex:idx_funding_datetime_symbol" json:"symbol"`
	Rate      decimal.Decimal `gorm:"type:numeric" json:"rate"`
	MarkPrice decimal.Decimal `gorm:"type:numeric" json:"mark_price"`
	Volume24h decimal.Decimal `gorm:"type:numeric" json:"volume_24h"`
}

func (FundingRateRecord) TableName() string {
	return "funding_rates"
}
