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

type KlineRepository struct {
	db *gorm.DB
}

// NewKlineRepository creates a repository over the shared connection.
func NewKlineRepository() *KlineRepository {
	return &KlineRepository{db: database.MainDB}
}

func NewKlineRepositoryWithDB(db *gorm.DB) *KlineRepository {
	logger.WithField("component", "KlineRepository").
		Info("Creating new KlineRepository with custom DB instance")

	return &KlineRepository{db: db}
}

// UpsertBatch inserts candles, updating price and volume fields when a row
// for the same (datetime, symbol) already exists, so backfills can be rerun
// over overlapping ranges.
func (r *KlineRepository) UpsertBatch(ctx context.Context, klines []model.Kline) error {
	if len(klines) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "datetime"},
				{Name: "symbol"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"open",
				"high",
				"low",
				"close",
				"volume",
			}),
		}).
		Create(&klines).Error
}

// FetchRange returns candles for a symbol within [from, to], ascending by
// datetime.
func (r *KlineRepository) FetchRange(ctx context.Context, symbol string, from, to time.Time) ([]model.Kline, error) {
	var rows []model.Kline
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND datetime >= ? AND datetime <= ?", symbol, from, to).
		Order("datetime ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestDatetime returns the newest stored candle time for a symbol, used by
// the backfill to resume where it left off. ok is false when no rows exist.
func (r *KlineRepository) LatestDatetime(ctx context.Context, symbol string) (time.Time, bool, error) {
	var row model.Kline
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("datetime DESC").
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return row.Datetime, true, nil
}
