package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRenameIntentionType      = "2024-01-15_rename_intention_exercise_type"
	migrationDefaultIntentionPriority = "2024-02-01_default_intention_priority"
	migrationDefaultGoalTarget        = "2024-02-20_default_goal_target_value"
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
		{name: migrationRenameIntentionType, apply: renameIntentionType},
		{name: migrationDefaultIntentionPriority, apply: defaultIntentionPriority},
		{name: migrationDefaultGoalTarget, apply: defaultGoalTarget},
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
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early clients stored an intention's type under exerciseType.
func renameIntentionType(db *gorm.DB) error {
	return db.Model(&documents.Record{}).
		Where("collection = ?", documents.CollectionIntention.String()).
		Where("json_extract(payload_json, '$.exerciseType') IS NOT NULL").
		Where("json_extract(payload_json, '$.intentionType') IS NULL").
		Update("payload_json", gorm.Expr(
			"json_remove(json_set(payload_json, '$.intentionType', json_extract(payload_json, '$.exerciseType')), '$.exerciseType')",
		)).Error
}

func defaultIntentionPriority(db *gorm.DB) error {
	return db.Model(&documents.Record{}).
		Where("collection = ?", documents.CollectionIntention.String()).
		Where("COALESCE(json_extract(payload_json, '$.priority'), '') = ''").
		Update("payload_json", gorm.Expr("json_set(payload_json, '$.priority', 'Medium')")).Error
}

func defaultGoalTarget(db *gorm.DB) error {
	return db.Model(&documents.Record{}).
		Where("collection = ?", documents.CollectionGoals.String()).
		Where("COALESCE(json_extract(payload_json, '$.targetValue'), 0) = 0").
		Update("payload_json", gorm.Expr("json_set(payload_json, '$.targetValue', 100)")).Error
}
