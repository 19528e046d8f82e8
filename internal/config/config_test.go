package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/blueballs")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
}

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.SupabaseURL != "https://example.supabase.co" {
		t.Fatalf("supabase url not trimmed: %q", cfg.SupabaseURL)
	}
	if cfg.SubmitMaxAttempts != 3 || !cfg.MigrateOnStart || cfg.StripeTestMode {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadAPIFromEnvMissing(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}

	setRequired(t)
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("DISCORD_ANNOUNCE_CHANNEL_ID", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected error for discord token without channel")
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/blueballs")
	t.Setenv("BLUEBALLS_BILLING_POLL_EVERY", "nonsense")
	t.Setenv("BLUEBALLS_BILLING_BATCH", "-4")
	t.Setenv("BLUEBALLS_WORKER_RUN_ONCE", "true")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollEvery != 30*time.Second || cfg.BatchSize != 50 || !cfg.RunOnce {
		t.Fatalf("unexpected worker config %+v", cfg)
	}
}
