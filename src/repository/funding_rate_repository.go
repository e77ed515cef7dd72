package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fundingarb/src/database"
	"fundingarb/src/model"
)

type FundingRateRepository struct {
	db *gorm.DB
}

// NewFundingRateRepository creates a repository over the shared connection.
func NewFundingRateRepository() *FundingRateRepository {
	return &FundingRateRepository{db: database.MainDB}
}

func NewFundingRateRepositoryWithDB(db *gorm.DB) *FundingRateRepository {
	logger.WithField("component", "FundingRateRepository").
		Info("Creating new FundingRateRepository with custom DB instance")

	return &FundingRateRepository{db: db}
}

// UpsertBatch stores funding snapshots, updating rate and mark price on
// (datetime, symbol) conflicts.
func (r *FundingRateRepository) UpsertBatch(ctx context.Context, records []model.FundingRateRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "datetime"},
				{Name: "symbol"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"rate",
				"mark_price",
				"volume_24h",
			}),
		}).
		Create(&records).Error
}

// RecordFundingRates converts live funding tickers into snapshot rows and
// upserts them. The row datetime is the ticker's update time truncated to the
// minute, so repeated polls within a minute collapse into one row per symbol.
func (r *FundingRateRepository) RecordFundingRates(ctx context.Context, rates []model.FundingRate) error {
	records := make([]model.FundingRateRecord, 0, len(rates))
	for _, rate := range rates {
		at := rate.UpdatedAt
		if at.IsZero() {
			at = time.Now()
		}
		records = append(records, model.FundingRateRecord{
			Datetime:  at.Truncate(time.Minute),
			Symbol:    rate.Symbol,
			Rate:      rate.Rate,
			MarkPrice: rate.MarkPrice,
			Volume24h: rate.Volume24h,
		})
	}
	return r.UpsertBatch(ctx, records)
}

// FetchRange returns funding snapshots within [from, to] across all symbols,
// ascending by datetime, for replay.
func (r *FundingRateRepository) FetchRange(ctx context.Context, from, to time.Time) ([]model.FundingRateRecord, error) {
	var rows []model.FundingRateRecord
	err := r.db.WithContext(ctx).
		Where("datetime >= ? AND datetime <= ?", from, to).
		Order("datetime ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchRangeForSymbol returns funding snapshots for one symbol within
// [from, to], ascending by datetime.
func (r *FundingRateRepository) FetchRangeForSymbol(ctx context.Context, symbol string, from, to time.Time) ([]model.FundingRateRecord, error) {
	var rows []model.FundingRateRecord
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND datetime >= ? AND datetime <= ?", symbol, from, to).
		Order("datetime ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
