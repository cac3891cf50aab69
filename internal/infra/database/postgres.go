package database

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/totegamma/ortto-dashboard/internal/infra/database/models"
	"github.com/totegamma/ortto-dashboard/internal/logging"
)

func NewPostgres(dsn string) (*gorm.DB, error) {
	gormLogger := logger.New(
		zerologWriter{},
		logger.Config{
			SlowThreshold:             300 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	return db, err
}

func MigratePostgres(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ReportCache{},
		&models.ReportCacheRecord{},
		&models.RateLimitEntry{},
	)
}

// zerologWriter routes gorm's printf-style logger into zerolog.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...any) {
	logging.Warn().Str("module", "gorm").Msgf(format, args...)
}
