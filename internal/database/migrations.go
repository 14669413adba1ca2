package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillElementScale = "2026-10-01_backfill_element_scale"

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
		{name: migrationBackfillElementScale, apply: backfillElementScale},
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

// backfillElementScale gives unscaled rows from the first schema revision the
// identity scale.
func backfillElementScale(db *gorm.DB) error {
	return db.Model(&canvases.ElementRecord{}).
		Where("scale IS NULL OR scale <= 0").
		Update("scale", 1).Error
}
