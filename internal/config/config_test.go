package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("PILOTWATCH_DB_BACKEND", "postgres")
	t.Setenv("PILOTWATCH_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("PILOTWATCH_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("PILOTWATCH_TICK_INTERVAL_SECONDS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabasePostgres {
		t.Fatalf("unexpected db backend: %q", cfg.DBBackend)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Fatalf("unexpected tick interval: %v", cfg.TickInterval)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite default, got %q", cfg.DBBackend)
	}
	if cfg.BusBackend != EventBusMemory {
		t.Fatalf("expected memory bus default, got %q", cfg.BusBackend)
	}
	if !cfg.AlertsEnabled {
		t.Fatal("alerts should default on")
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("PILOTWATCH_DB_BACKEND", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown database backend")
	}
}

func TestLoadProductionRequiresJWTKey(t *testing.T) {
	t.Setenv("PILOTWATCH_ENV", "production")
	t.Setenv("PILOTWATCH_JWT_SIGNING_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("PILOTWATCH_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
}
