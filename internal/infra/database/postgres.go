package database

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/totegamma/appforge/internal/infra/database/models"
)

func NewPostgres(dsn string) (*gorm.DB, error) {
	return OpenPostgres(postgres.Open(dsn))
}

// OpenPostgres opens gorm on an arbitrary postgres dialector, so tests can
// pass one bound to an existing connection.
func OpenPostgres(dialector gorm.Dialector) (*gorm.DB, error) {
	gormLog := log.With().Str("module", "gorm").Logger()
	gormLogger := logger.New(
		&gormLog,
		logger.Config{
			SlowThreshold:             300 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // Ignore ErrRecordNotFound error for logger
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	return db, err
}

func MigratePostgres(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Application{},
		&models.ApplicationSnapshot{},
	)
}
