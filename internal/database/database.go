// Package database opens the configured gorm connection and migrates the schema.
package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/koi/internal/profiles"
	"github.com/MarcoPoloResearchLab/koi/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite selects the embedded pure-Go SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects PostgreSQL.
	DriverPostgres = "postgres"
)

// Open establishes a connection for driver and performs schema migrations.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", dialector.Name()))
	}
	return db, nil
}

// Migrate creates the tables and applies the named data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	schema := append(profiles.Models(), &users.Identity{}, &migrationRecord{})
	if err := db.AutoMigrate(schema...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
