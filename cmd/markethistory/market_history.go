package markethistory

import (
	"context"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
	"fundingarb/src/repository"
)

const (
	Duration1m = "1m"
	Duration1h = "1h"
)

// MarketHistory backfills spot candles into the klines table for the
// backtest harness. Candles come from Binance through goex; the symbol
// is stored in exchange notation (BTCUSDT) so replay and live trading
// agree on naming.
type MarketHistory struct {
	Log      *logger.Entry
	Repo     *repository.KlineRepository
	Config   *Config
	exchange goex.API
}

func (m *MarketHistory) Start() error {
	m.Config = GetConfig()

	m.exchange = m.newBinanceInstance()

	if m.Config.AutoMode {
		if err := m.determineStartPoint(); err != nil {
			return err
		}
	}

	return m.fetchAndSave()
}

func (*MarketHistory) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

func (m *MarketHistory) storedSymbol() string {
	return m.Config.Symbol + m.Config.Quote
}

func (m *MarketHistory) fetchAndSave() error {
	series, err := m.fetchKlineSeries()
	if err != nil {
		return err
	}

	klines := make([]model.Kline, 0, len(series))
	for i := range series {
		result := series[i]
		klines = append(klines, model.Kline{
			Datetime: time.Unix(result.Timestamp, 0).UTC(),
			Symbol:   m.storedSymbol(),
			Open:     decimal.NewFromFloat(result.Open),
			High:     decimal.NewFromFloat(result.High),
			Low:      decimal.NewFromFloat(result.Low),
			Close:    decimal.NewFromFloat(result.Close),
			Volume:   decimal.NewFromFloat(result.Vol),
		})
	}

	if err := m.Repo.UpsertBatch(context.Background(), klines); err != nil {
		m.Log.WithError(err).Error("fetchAndSave, UpsertBatch")
		return err
	}

	m.Log.WithFields(logger.Fields{
		"Symbol":  m.storedSymbol(),
		"Candles": len(klines),
	}).Info("kline data inserted or updated in database")

	return nil
}

// determineStartPoint resumes the backfill one interval before the newest
// stored candle, so reruns overlap instead of leaving gaps.
func (m *MarketHistory) determineStartPoint() error {
	m.Config.StartDt = m.Config.StartDt.Add(-m.parseDuration())
	m.Config.EndDt = time.Now()

	latest, ok, err := m.Repo.LatestDatetime(context.Background(), m.storedSymbol())
	if err != nil {
		m.Log.WithError(err).Error("Failed to query latest datetime")
		return err
	}

	if ok {
		m.Config.StartDt = latest.Add(-m.parseDuration())
		m.Log.
			WithField("StartDt", m.Config.StartDt.String()).
			WithField("EndDt", m.Config.EndDt.String()).
			Info("determineStartPoint resuming from stored data")
	} else {
		m.Log.
			WithField("StartDt", m.Config.StartDt.String()).
			WithField("EndDt", m.Config.EndDt.String()).
			Info("determineStartPoint no records found, starting from configured StartDt")
	}

	return nil
}

func (m *MarketHistory) fetchKlineSeries() ([]goex.Kline, error) {
	targetSymbol := goex.NewCurrencyPair(goex.Currency{Symbol: m.Config.Symbol}, goex.Currency{Symbol: m.Config.Quote})

	const millis = 1000
	klines, err := m.exchange.GetKlineRecords(
		targetSymbol,
		m.parseDurationToGoex(),
		m.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", m.Config.StartDt.Unix()*millis).
			Optional("endTime", m.Config.EndDt.Unix()*millis),
	)
	if err != nil {
		return nil, err
	}

	return klines, nil
}

func (m *MarketHistory) parseDuration() time.Duration {
	switch m.Config.DurationStr {
	case Duration1m:
		return time.Minute
	case Duration1h:
		return time.Hour
	default:
		panic("invalid DURATION env var")
	}
}

func (m *MarketHistory) parseDurationToGoex() goex.KlinePeriod {
	switch m.Config.DurationStr {
	case Duration1m:
		return goex.KLINE_PERIOD_1MIN
	case Duration1h:
		return goex.KLINE_PERIOD_1H
	default:
		panic("invalid DURATION env var")
	}
}
