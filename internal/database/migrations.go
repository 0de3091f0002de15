package database

import (
	"errors"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/summaries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationTrimDayPrecision = "2026-08-12_trim_day_precision"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTrimDayPrecision, apply: trimDayPrecision},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// trimDayPrecision repairs day keys written by early builds that stored a
// full timestamp instead of the calendar-day prefix.
func trimDayPrecision(db *gorm.DB) error {
	return db.Model(&summaries.Summary{}).
		Where("length(day) > 10").
		Update("day", gorm.Expr("substr(day, 1, 10)")).Error
}
