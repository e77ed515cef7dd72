package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"fundingarb/src/model"
)

func TestFundingRateRepositoryUpsertBatch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewFundingRateRepositoryWithDB(mockDB)

	records := []model.FundingRateRecord{
		{
			Datetime:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			Symbol:    "BTCUSDT",
			Rate:      decimal.NewFromFloat(0.0005),
			MarkPrice: decimal.NewFromInt(50000),
			Volume24h: decimal.NewFromInt(90000000),
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "funding_rates"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	if err := repo.UpsertBatch(context.Background(), records); err != nil {
		t.Fatalf("expected upsert to succeed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestFundingRateRepositoryRecordFundingRates(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewFundingRateRepositoryWithDB(mockDB)

	at := time.Date(2026, 8, 1, 0, 0, 30, 0, time.UTC)
	rates := []model.FundingRate{
		{
			Symbol:    "BTCUSDT",
			Rate:      decimal.NewFromFloat(0.0005),
			MarkPrice: decimal.NewFromInt(50000),
			Volume24h: decimal.NewFromInt(90000000),
			UpdatedAt: at,
		},
	}

	mock.ExpectBegin()
	// snapshot datetime truncates to the minute so polls collapse per symbol
	mock.ExpectQuery(`INSERT INTO "funding_rates"`).
		WithArgs(at.Truncate(time.Minute), "BTCUSDT", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	if err := repo.RecordFundingRates(context.Background(), rates); err != nil {
		t.Fatalf("expected snapshot write to succeed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestFundingRateRepositoryFetchRange(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewFundingRateRepositoryWithDB(mockDB)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(16 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "datetime", "symbol", "rate", "mark_price", "volume_24h"}).
		AddRow(1, from, "BTCUSDT", "0.0005", "50000", "90000000").
		AddRow(2, from.Add(8*time.Hour), "BTCUSDT", "0.0004", "50100", "88000000")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "funding_rates" WHERE datetime >= $1 AND datetime <= $2 ORDER BY datetime ASC`)).
		WithArgs(from, to).
		WillReturnRows(rows)

	result, err := repo.FetchRange(context.Background(), from, to)
	if err != nil {
		t.Fatalf("unexpected error fetching range: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(result))
	}
	if !result[0].Rate.Equal(decimal.NewFromFloat(0.0005)) {
		t.Fatalf("unexpected first rate: %s", result[0].Rate)
	}
}

func TestFundingRateRepositoryFetchRangeForSymbol(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewFundingRateRepositoryWithDB(mockDB)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(8 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "datetime", "symbol", "rate", "mark_price", "volume_24h"}).
		AddRow(1, from, "ETHUSDT", "0.0003", "2400", "40000000")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "funding_rates" WHERE symbol = $1 AND datetime >= $2 AND datetime <= $3 ORDER BY datetime ASC`)).
		WithArgs("ETHUSDT", from, to).
		WillReturnRows(rows)

	result, err := repo.FetchRangeForSymbol(context.Background(), "ETHUSDT", from, to)
	if err != nil {
		t.Fatalf("unexpected error fetching range: %v", err)
	}

	if len(result) != 1 || result[0].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
