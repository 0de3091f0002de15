package database

import (
	"path/filepath"
	"testing"

	"github.com/daybook-labs/daybook/backend/internal/summaries"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsTrimsDayPrecision(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&summaries.Summary{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := summaries.Summary{
		SummaryID: "summary-legacy",
		UserID:    "user-1",
		Day:       "2026-08-12T09:41:00Z",
		Text:      "written before the day key was trimmed",
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy record: %v", err)
	}
	current := summaries.Summary{
		SummaryID: "summary-current",
		UserID:    "user-2",
		Day:       "2026-08-13",
		Text:      "already trimmed",
	}
	if err := database.Create(&current).Error; err != nil {
		testContext.Fatalf("failed to insert current record: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired summaries.Summary
	if err := database.Where("summary_id = ?", legacy.SummaryID).Take(&repaired).Error; err != nil {
		testContext.Fatalf("failed to reload legacy record: %v", err)
	}
	if repaired.Day != "2026-08-12" {
		testContext.Fatalf("expected day key to be trimmed, got %q", repaired.Day)
	}

	var untouched summaries.Summary
	if err := database.Where("summary_id = ?", current.SummaryID).Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload current record: %v", err)
	}
	if untouched.Day != "2026-08-13" {
		testContext.Fatalf("expected trimmed day key to be untouched, got %q", untouched.Day)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationTrimDayPrecision).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}
	var recordCount int64
	if err := database.Model(&migrationRecord{}).Where("name = ?", migrationTrimDayPrecision).Count(&recordCount).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if recordCount != 1 {
		testContext.Fatalf("expected a single migration record after re-run, got %d", recordCount)
	}
}
