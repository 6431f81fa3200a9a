package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, "database:\n  url: \"file:test.db\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Files.RootDir != "./uploads" {
		t.Errorf("RootDir = %q, want ./uploads", cfg.Files.RootDir)
	}
	if cfg.Auth.TokenTTL != 30*24*time.Hour {
		t.Errorf("TokenTTL = %v, want 720h", cfg.Auth.TokenTTL)
	}
	if cfg.MaxUploadBytes() != 10<<20 {
		t.Errorf("MaxUploadBytes = %d, want %d", cfg.MaxUploadBytes(), 10<<20)
	}
}

func TestLoadConfig_FileValuesAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_URL", "")
	path := writeConfig(t, `
server:
  port: 8080
  max_upload_mb: 2
database:
  driver: sqlite
  url: "file:tasks.db"
auth:
  jwt_secret: "from-file"
  token_ttl: 1h
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "file:tasks.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.MaxUploadBytes() != 2<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes())
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config")
	}
}
