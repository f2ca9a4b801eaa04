package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Postgres.Database != "review_reconciler" {
		t.Errorf("Postgres.Database = %q, want review_reconciler", cfg.Database.Postgres.Database)
	}
	if cfg.Backfill.DefaultDailyLimit != 100 {
		t.Errorf("Backfill.DefaultDailyLimit = %d, want 100", cfg.Backfill.DefaultDailyLimit)
	}
	if cfg.Backfill.LeaseTimeout != 30*time.Minute {
		t.Errorf("Backfill.LeaseTimeout = %v, want 30m", cfg.Backfill.LeaseTimeout)
	}
	if cfg.Backfill.MatchTolerance != 90*time.Second {
		t.Errorf("Backfill.MatchTolerance = %v, want 90s", cfg.Backfill.MatchTolerance)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("BACKFILL_BATCH_SIZE", "25")
	t.Setenv("COMPLAINT_DAILY_LIMIT", "50")
	t.Setenv("OPENAI_DRAFT_TIMEOUT", "5s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("Server.Port = %q, want 9999", cfg.Server.Port)
	}
	if cfg.Backfill.BatchSize != 25 {
		t.Errorf("Backfill.BatchSize = %d, want 25", cfg.Backfill.BatchSize)
	}
	if cfg.Backfill.DefaultDailyLimit != 50 {
		t.Errorf("Backfill.DefaultDailyLimit = %d, want 50", cfg.Backfill.DefaultDailyLimit)
	}
	if cfg.OpenAI.DraftTimeout != 5*time.Second {
		t.Errorf("OpenAI.DraftTimeout = %v, want 5s", cfg.OpenAI.DraftTimeout)
	}
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("POSTGRES_MAX_CONNECTIONS", "not-a-number")
	t.Setenv("BACKFILL_LEASE_TIMEOUT", "soon")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Database.Postgres.MaxConnections != 50 {
		t.Errorf("Postgres.MaxConnections = %d, want default 50", cfg.Database.Postgres.MaxConnections)
	}
	if cfg.Backfill.LeaseTimeout != 30*time.Minute {
		t.Errorf("Backfill.LeaseTimeout = %v, want default 30m", cfg.Backfill.LeaseTimeout)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := &PostgresConfig{
		Host:     "db",
		Port:     "5432",
		Database: "review_reconciler",
		User:     "reconciler",
		Password: "secret",
	}

	want := "postgres://reconciler:secret@db:5432/review_reconciler?sslmode=disable"
	if got := cfg.PostgresURL(); got != want {
		t.Errorf("PostgresURL() = %q, want %q", got, want)
	}
}
