package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OMIE_API_KEY", "")
	t.Setenv("OMIE_API_SECRET", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Omie.AppKey != DefaultAppKey || cfg.Omie.AppSecret != DefaultAppSecret {
		t.Fatalf("unexpected credentials: %+v", cfg.Omie)
	}
	if !cfg.Omie.UsingDefaults() {
		t.Fatal("expected defaults to be reported")
	}
	if cfg.Omie.BaseURL != "https://app.omie.com.br/api/v1" {
		t.Fatalf("unexpected base url %q", cfg.Omie.BaseURL)
	}
	if cfg.Omie.Retries != 2 {
		t.Fatalf("unexpected retries %d", cfg.Omie.Retries)
	}
	if cfg.Server.Addr() != ":3000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.LogSink.Enabled() {
		t.Fatal("log sink should be disabled without credentials")
	}
	if cfg.LogSink.FlushEvery != 2*time.Second {
		t.Fatalf("unexpected flush interval %s", cfg.LogSink.FlushEvery)
	}
	if cfg.Telemetry.Enabled() {
		t.Fatal("telemetry should be disabled without an endpoint")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OMIE_API_KEY", "key-123")
	t.Setenv("OMIE_API_SECRET", "secret-456")
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TZ_LOCATION", "UTC")
	t.Setenv("LOGSINK_ACCOUNT_NAME", "acct")
	t.Setenv("LOGSINK_ACCOUNT_KEY", "a2V5")
	t.Setenv("LOGSINK_CONTAINER", "logs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Omie.AppKey != "key-123" || cfg.Omie.AppSecret != "secret-456" {
		t.Fatalf("unexpected credentials: %+v", cfg.Omie)
	}
	if cfg.Omie.UsingDefaults() {
		t.Fatal("explicit credentials reported as defaults")
	}
	if cfg.Server.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.Server.Level() != slog.LevelDebug {
		t.Fatalf("unexpected level %v", cfg.Server.Level())
	}
	loc, err := cfg.Server.Location()
	if err != nil || loc.String() != "UTC" {
		t.Fatalf("unexpected location %v, err %v", loc, err)
	}
	if !cfg.LogSink.Enabled() {
		t.Fatal("expected log sink to be enabled")
	}
}

func TestLoadRejectsUnknownTimeZone(t *testing.T) {
	t.Setenv("TZ_LOCATION", "Mars/Olympus_Mons")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown time zone")
	}
}

func TestLevelFallsBackToInfo(t *testing.T) {
	s := ServerConfig{LogLevel: "loud"}
	if s.Level() != slog.LevelInfo {
		t.Fatalf("unexpected level %v", s.Level())
	}
}
