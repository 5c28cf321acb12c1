package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsCreatesNamespaceKeyIndex(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&Document{}, &SetMember{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var indexCount int64
	err = database.Raw("SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?", "idx_documents_namespace_key").
		Scan(&indexCount).Error
	if err != nil {
		testContext.Fatalf("failed to inspect indexes: %v", err)
	}
	if indexCount != 1 {
		testContext.Fatalf("expected the namespace key index to exist, found %d", indexCount)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationInitialNamespaceKeyIndex).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-applying migrations should be a no-op: %v", err)
	}
	var recordCount int64
	if err := database.Model(&migrationRecord{}).Count(&recordCount).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if recordCount != 1 {
		testContext.Fatalf("expected one migration record, got %d", recordCount)
	}
}

func TestNamespaceOf(testContext *testing.T) {
	cases := map[string]string{
		"user:1":           "user",
		"authed-users:g:x": "authed-users",
		"kick-whitelist":   "",
	}
	for key, expected := range cases {
		if got := NamespaceOf(key); got != expected {
			testContext.Fatalf("NamespaceOf(%q) = %q, want %q", key, got, expected)
		}
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected an error for an empty path")
	}
}
