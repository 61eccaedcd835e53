package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedBadgeCatalog   = "2026-03-01_seed_badge_catalog"
	migrationBackfillRankLevels = "2026-03-08_backfill_rank_levels"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migration struct {
	name  string
	apply func(tx *gorm.DB) error
}

func dataMigrations() []migration {
	return []migration{
		{name: migrationSeedBadgeCatalog, apply: seedBadgeCatalog},
		{name: migrationBackfillRankLevels, apply: backfillRankLevels},
	}
}

// applyMigrations runs every data migration not yet recorded. A migration and its
// record commit together, so a failed migration is retried on the next start.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, step := range dataMigrations() {
		applied, err := migrationApplied(db, step.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := step.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: step.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", step.name))
		}
	}
	return nil
}

func migrationApplied(db *gorm.DB, name string) (bool, error) {
	var record migrationRecord
	err := db.Where("name = ?", name).Take(&record).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

func seedBadgeCatalog(tx *gorm.DB) error {
	return profiles.SeedBadges(context.Background(), tx, profiles.DefaultBadgeCatalog())
}

// backfillRankLevels realigns stored levels with the rank table for rows written
// with a level that disagrees with their XP.
func backfillRankLevels(tx *gorm.DB) error {
	for _, rank := range ranks.Table() {
		query := tx.Model(&profiles.Profile{}).
			Where("xp >= ?", rank.MinXP).
			Where("level <> ?", rank.Level)
		if !rank.IsMax() {
			query = query.Where("xp <= ?", rank.MaxXP)
		}
		if err := query.Update("level", rank.Level).Error; err != nil {
			return err
		}
	}
	return tx.Model(&profiles.Profile{}).
		Where("xp < ?", 0).
		Where("level <> ?", ranks.MinLevel).
		Update("level", ranks.MinLevel).Error
}
