package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr                    string
	DatabaseURL             string
	SupabaseURL             string
	SupabaseAnonKey         string
	StripeWebhookSecret     string
	StripeTestWebhookSecret string
	StripeTestMode          bool
	SubmitMaxAttempts       int
	MigrateOnStart          bool
	DiscordBotToken         string
	DiscordChannelID        string
}

type WorkerConfig struct {
	DatabaseURL string
	PollEvery   time.Duration
	BatchSize   int
	RunOnce     bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BLUEBALLS_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:                    addr,
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SupabaseURL:             strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:         strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		StripeWebhookSecret:     strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeTestWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_TEST_WEBHOOK_SECRET")),
		StripeTestMode:          envBoolDefault("BLUEBALLS_STRIPE_TEST_MODE", false),
		SubmitMaxAttempts:       envIntDefault("BLUEBALLS_SUBMIT_MAX_ATTEMPTS", 3),
		MigrateOnStart:          envBoolDefault("BLUEBALLS_MIGRATE_ON_START", true),
		DiscordBotToken:         strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID:        strings.TrimSpace(os.Getenv("DISCORD_ANNOUNCE_CHANNEL_ID")),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if cfg.SubmitMaxAttempts < 1 {
		return cfg, fmt.Errorf("BLUEBALLS_SUBMIT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.DiscordBotToken != "" && cfg.DiscordChannelID == "" {
		return cfg, fmt.Errorf("DISCORD_ANNOUNCE_CHANNEL_ID is required when DISCORD_BOT_TOKEN is set")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		PollEvery:   envDurationDefault("BLUEBALLS_BILLING_POLL_EVERY", 30*time.Second),
		BatchSize:   envIntDefault("BLUEBALLS_BILLING_BATCH", 50),
		RunOnce:     envBoolDefault("BLUEBALLS_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BB_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
