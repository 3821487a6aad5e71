package database

import (
	"errors"
	"time"

	"github.com/P2Wdisabled/Notus-sub000/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillDocumentTags = "2026-06-02_backfill_document_tags"

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
		{name: migrationBackfillDocumentTags, apply: backfillDocumentTags},
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

// Rows written before tags were stored carry an empty tags column; normalize
// them to an empty JSON array so readers never parse "".
func backfillDocumentTags(db *gorm.DB) error {
	return db.Model(&documents.Document{}).
		Where("tags_json = ''").
		Update("tags_json", "[]").Error
}
