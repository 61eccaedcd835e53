package profiles

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/koi/internal/ranks"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FirstCheckinBadgeID is awarded on the first daily check-in.
var FirstCheckinBadgeID = slug.Make("First Check-in")

// DefaultBadgeCatalog returns the seeded badges: one per rank above the first and a first check-in badge.
func DefaultBadgeCatalog() []Badge {
	catalog := []Badge{{
		ID:          FirstCheckinBadgeID,
		Name:        "First Check-in",
		Icon:        "/badges/first-checkin.png",
		Description: "Checked in for the first time",
	}}
	for _, rank := range ranks.Table() {
		if rank.Level == ranks.MinLevel {
			continue
		}
		catalog = append(catalog, Badge{
			ID:          LevelBadgeID(rank.Level),
			Name:        rank.Name,
			Icon:        rank.Image,
			Description: fmt.Sprintf("Reached level %d: %s", rank.Level, rank.Name),
			MinLevel:    rank.Level,
		})
	}
	return catalog
}

// LevelBadgeID is the catalog id of the badge granted on reaching level.
func LevelBadgeID(level int) string {
	return slug.Make(ranks.ByLevel(level).Name)
}

// SeedBadges inserts catalog entries that are not present yet.
func SeedBadges(ctx context.Context, db *gorm.DB, catalog []Badge) error {
	if len(catalog) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&catalog).Error
}
