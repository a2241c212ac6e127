package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/model"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "records.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Hectare{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func seedHectare(t *testing.T, repo *Repository[model.Hectare], id, owner string, status model.HectareStatus, createdAt time.Time) {
	t.Helper()
	record := model.Hectare{
		ID:        id,
		OwnerID:   owner,
		Name:      "Lote " + id,
		Size:      decimal.RequireFromString("1.5"),
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := repo.Insert(context.Background(), &record); err != nil {
		t.Fatalf("failed to insert hectare %s: %v", id, err)
	}
}

func TestSelectAppliesConjunctiveFilterAndOrder(t *testing.T) {
	repo, err := NewRepository[model.Hectare](openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	seedHectare(t, repo, "h-1", "op-1", model.HectareStatusActive, base)
	seedHectare(t, repo, "h-2", "op-1", model.HectareStatusInactive, base.Add(time.Hour))
	seedHectare(t, repo, "h-3", "op-1", model.HectareStatusActive, base.Add(2*time.Hour))
	seedHectare(t, repo, "h-4", "op-2", model.HectareStatusActive, base.Add(3*time.Hour))

	rows, err := repo.Select(context.Background(), Eq("owner_id", "op-1").And("status", model.HectareStatusActive), Desc("created_at"))
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "h-3" || rows[1].ID != "h-1" {
		t.Fatalf("unexpected order: %s, %s", rows[0].ID, rows[1].ID)
	}

	all, err := repo.Select(context.Background(), nil, Asc("created_at"))
	if err != nil {
		t.Fatalf("select all failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != "h-1" {
		t.Fatalf("expected all rows oldest first, got %d rows", len(all))
	}
}

func TestSelectReturnsEmptySliceWhenNothingMatches(t *testing.T) {
	repo, err := NewRepository[model.Hectare](openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	rows, err := repo.Select(context.Background(), Eq("owner_id", "nobody"))
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", rows)
	}
}

func TestGetUpdateDeleteReportNotFound(t *testing.T) {
	repo, err := NewRepository[model.Hectare](openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found from get, got %v", err)
	}
	if err := repo.Update(ctx, "missing", map[string]any{"name": "x"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found from update, got %v", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found from delete, got %v", err)
	}
}

func TestUpdateAndDeleteExistingRow(t *testing.T) {
	repo, err := NewRepository[model.Hectare](openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	ctx := context.Background()
	seedHectare(t, repo, "h-1", "op-1", model.HectareStatusActive, time.Now().UTC())

	if err := repo.Update(ctx, "h-1", map[string]any{"status": model.HectareStatusHarvested}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	stored, err := repo.Get(ctx, "h-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != model.HectareStatusHarvested {
		t.Fatalf("expected harvested, got %s", stored.Status)
	}

	if err := repo.Delete(ctx, "h-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "h-1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected row to be gone, got %v", err)
	}
}

func TestRepositoryRejectsMalformedCalls(t *testing.T) {
	if _, err := NewRepository[model.Hectare](nil); !errors.Is(err, errMissingDatabase) {
		t.Fatalf("expected missing database error, got %v", err)
	}
	repo, err := NewRepository[model.Hectare](openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	if _, err := repo.Select(context.Background(), Eq(" ", "x")); !errors.Is(err, errEmptyFilter) {
		t.Fatalf("expected empty filter error, got %v", err)
	}
	if err := repo.Update(context.Background(), "h-1", nil); !errors.Is(err, errNoFields) {
		t.Fatalf("expected no fields error, got %v", err)
	}
	if err := repo.Delete(context.Background(), ""); !errors.Is(err, errMissingRecordID) {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestFilterAndDoesNotAliasReceiver(t *testing.T) {
	base := make(Filter, 1, 4)
	base[0] = Condition{Field: "owner_id", Value: "op-1"}
	first := base.And("status", "active")
	second := base.And("status", "inactive")
	if first[1].Value != "active" || second[1].Value != "inactive" {
		t.Fatalf("expected independent filters, got %v and %v", first, second)
	}
}

func TestUUIDProviderIssuesDistinctIdentifiers(t *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second || len(first) != 36 {
		t.Fatalf("unexpected identifiers %q %q", first, second)
	}
}
