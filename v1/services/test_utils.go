package services

import (
	"testing"

	"github.com/Ironbeetle/tcn-member-portal/v1/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupSQLiteTestDB creates an in-memory SQLite database with all sync
// models migrated. TranslateError matches the production connection so
// duplicate-key handling behaves the same under test.
func SetupSQLiteTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Member{},
		&models.Profile{},
		&models.Barcode{},
		&models.Family{},
		&models.Bulletin{},
		&models.Council{},
		&models.CouncilMember{},
		&models.SyncAuditLog{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}
