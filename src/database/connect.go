package database

import (
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fundingarb/src/model"
)

// MainDB is the shared connection used by the repositories once InitDB has
// run.
var MainDB *gorm.DB

// Connect opens the database named by the URL, picking the driver from the
// scheme: postgres:// (or postgresql://) for PostgreSQL, anything else is
// treated as a sqlite file path. Migrates the market-history tables.
func Connect(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(cfg.DatabaseURL, "postgres://"), strings.HasPrefix(cfg.DatabaseURL, "postgresql://"):
		dialector = postgres.Open(cfg.DatabaseURL)
	case strings.HasPrefix(cfg.DatabaseURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
	default:
		dialector = sqlite.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.LogLevel(cfg.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Connection pool tuning
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	if err := db.AutoMigrate(
		&model.Kline{},
		&model.FundingRateRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return db, nil
}

// InitDB connects using the environment config and stores the shared handle.
// Fatal on failure: nothing that needs the DB can run without it.
func InitDB() {
	cfg := GetConfig()

	db, err := Connect(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	MainDB = db
	logger.Info("Database connection initialized")
}
