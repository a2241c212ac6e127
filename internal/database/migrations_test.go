package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/auth"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "migration.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&auth.Identity{}, &model.Profile{}, &model.Hectare{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func TestApplyMigrationsNormalizesStoredEmails(testContext *testing.T) {
	database := openTestDatabase(testContext)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	if err := database.Create(&auth.Identity{ID: "op-1", Email: " Ana@Example.COM", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		testContext.Fatalf("failed to insert identity: %v", err)
	}
	if err := database.Create(&model.Profile{ID: "op-1", Email: " Ana@Example.COM", Role: model.RoleOperator, IsActive: true, CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		testContext.Fatalf("failed to insert profile: %v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var profile model.Profile
	if err := database.Take(&profile, "id = ?", "op-1").Error; err != nil {
		testContext.Fatalf("failed to reload profile: %v", err)
	}
	if profile.Email != "ana@example.com" {
		testContext.Fatalf("expected normalized profile email, got %q", profile.Email)
	}
	var identity auth.Identity
	if err := database.Take(&identity, "id = ?", "op-1").Error; err != nil {
		testContext.Fatalf("failed to reload identity: %v", err)
	}
	if identity.Email != "ana@example.com" {
		testContext.Fatalf("expected normalized identity email, got %q", identity.Email)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeProfileEmails).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
	if applied := logs.FilterMessage("database migration applied").Len(); applied != 2 {
		testContext.Fatalf("expected two applied migrations, got %d", applied)
	}
}

func TestApplyMigrationsDefaultsHectareStatus(testContext *testing.T) {
	database := openTestDatabase(testContext)
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := database.Create(&model.Hectare{ID: "h-1", OwnerID: "op-1", Name: "Lote", Size: decimal.NewFromInt(3), CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		testContext.Fatalf("failed to insert hectare: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored model.Hectare
	if err := database.Take(&stored, "id = ?", "h-1").Error; err != nil {
		testContext.Fatalf("failed to reload hectare: %v", err)
	}
	if stored.Status != model.HectareStatusActive {
		testContext.Fatalf("expected status to default to active, got %q", stored.Status)
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	database := openTestDatabase(testContext)
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}
	if logs.Len() != 0 {
		testContext.Fatalf("expected no migrations on second run, got %d", logs.Len())
	}
	var count int64
	database.Model(&migrationRecord{}).Count(&count)
	if count != 2 {
		testContext.Fatalf("expected two migration records, got %d", count)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "mysql"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unknown driver to be rejected")
	}
	if _, err := Open(Config{Driver: DriverPostgres}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected postgres without dsn to be rejected")
	}
}

func TestOpenMigratesSQLite(testContext *testing.T) {
	database, err := Open(Config{Driver: DriverSQLite, Path: filepath.Join(testContext.TempDir(), "open.db")}, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"identities", "revoked_sessions", "profiles", "hectares", "emissions", "tokens", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}
