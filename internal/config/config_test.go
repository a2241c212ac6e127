package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TokenTTL != 12*time.Hour || cfg.AuthRateLimit != "20-M" || cfg.Workers != 8 {
		t.Fatalf("unexpected auth defaults: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("expected no origins by default, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ECOCARBON_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("ECOCARBON_DATABASE_DRIVER", "Postgres")
	t.Setenv("ECOCARBON_DATABASE_DSN", "host=localhost user=eco dbname=eco")
	t.Setenv("ECOCARBON_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ECOCARBON_DASHBOARD_WORKERS", "3")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.DatabaseDriver != DriverPostgres || cfg.Workers != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	testCases := []struct {
		name     string
		values   map[string]any
		contains string
	}{
		{name: "missing secret", values: map[string]any{}, contains: "auth.signing_secret"},
		{name: "unknown driver", values: map[string]any{"auth.signing_secret": "s", "database.driver": "mysql"}, contains: "database.driver"},
		{name: "postgres without dsn", values: map[string]any{"auth.signing_secret": "s", "database.driver": "postgres"}, contains: "database.dsn"},
		{name: "zero ttl", values: map[string]any{"auth.signing_secret": "s", "auth.token_ttl_minutes": 0}, contains: "auth.token_ttl_minutes"},
		{name: "zero workers", values: map[string]any{"auth.signing_secret": "s", "dashboard.workers": 0}, contains: "dashboard.workers"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}

func TestLoadEnvFilesKeepsExistingEnvironment(t *testing.T) {
	dir := t.TempDir()
	contents := "ECOCARBON_AUTH_SIGNING_SECRET=from-file\nECOCARBON_LOG_LEVEL=debug\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("ECOCARBON_LOG_LEVEL", "warn")
	t.Setenv("ECOCARBON_AUTH_SIGNING_SECRET", "")
	if err := os.Unsetenv("ECOCARBON_AUTH_SIGNING_SECRET"); err != nil {
		t.Fatalf("failed to unset secret: %v", err)
	}

	if err := LoadEnvFiles(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SigningSecret != "from-file" {
		t.Fatalf("expected secret from .env, got %q", cfg.SigningSecret)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected environment to win over .env, got %q", cfg.LogLevel)
	}
}

func TestLoadEnvFilesIgnoresMissingFiles(t *testing.T) {
	if err := LoadEnvFiles(t.TempDir()); err != nil {
		t.Fatalf("expected missing files to be ignored, got %v", err)
	}
}
