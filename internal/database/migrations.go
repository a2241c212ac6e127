package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeProfileEmails = "2026-10-01_normalize_profile_emails"
	migrationDefaultHectareStatus   = "2026-10-01_default_hectare_status"
)

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
		{name: migrationNormalizeProfileEmails, apply: normalizeProfileEmails},
		{name: migrationDefaultHectareStatus, apply: defaultHectareStatus},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// normalizeProfileEmails lowercases and trims stored emails so lookups by normalized email match.
func normalizeProfileEmails(db *gorm.DB) error {
	for _, table := range []string{"profiles", "identities"} {
		if err := db.Exec("UPDATE " + table + " SET email = LOWER(TRIM(email)) WHERE email <> LOWER(TRIM(email))").Error; err != nil {
			return err
		}
	}
	return nil
}

func defaultHectareStatus(db *gorm.DB) error {
	return db.Model(&model.Hectare{}).
		Where("status = ? OR status IS NULL", "").
		Update("status", model.HectareStatusActive).Error
}
