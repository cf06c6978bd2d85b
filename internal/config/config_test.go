package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
conflict_policy: "last-writer-wins"
sync_interval: 30m
view_throttle: 10m
toggle_debounce: 2s
apply_concurrency: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SupabaseURL != "https://abcdefgh.supabase.co" {
		t.Errorf("SupabaseURL = %q, want %q", cfg.SupabaseURL, "https://abcdefgh.supabase.co")
	}
	if cfg.SupabaseKey != "anon-key" {
		t.Errorf("SupabaseKey = %q, want %q", cfg.SupabaseKey, "anon-key")
	}
	if cfg.ConflictPolicy != "last-writer-wins" {
		t.Errorf("ConflictPolicy = %q, want last-writer-wins", cfg.ConflictPolicy)
	}
	if cfg.SyncInterval != 30*time.Minute {
		t.Errorf("SyncInterval = %v, want 30m", cfg.SyncInterval)
	}
	if cfg.ViewThrottle != 10*time.Minute {
		t.Errorf("ViewThrottle = %v, want 10m", cfg.ViewThrottle)
	}
	if cfg.ToggleDebounce != 2*time.Second {
		t.Errorf("ToggleDebounce = %v, want 2s", cfg.ToggleDebounce)
	}
	if cfg.ApplyConcurrency != 8 {
		t.Errorf("ApplyConcurrency = %d, want 8", cfg.ApplyConcurrency)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ConflictPolicy != "" {
		t.Errorf("ConflictPolicy = %q, want empty (resolver default)", cfg.ConflictPolicy)
	}
	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want default 15m", cfg.SyncInterval)
	}
	if cfg.ViewThrottle != 15*time.Minute {
		t.Errorf("ViewThrottle = %v, want default 15m", cfg.ViewThrottle)
	}
	if cfg.ToggleDebounce != time.Second {
		t.Errorf("ToggleDebounce = %v, want default 1s", cfg.ToggleDebounce)
	}
	if cfg.ApplyConcurrency != 4 {
		t.Errorf("ApplyConcurrency = %d, want default 4", cfg.ApplyConcurrency)
	}
}

func TestLoad_MissingURL(t *testing.T) {
	path := writeConfig(t, `
supabase_key: "anon-key"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing supabase_url, got nil")
	}
}

func TestLoad_InvalidURL(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "not-a-url"
supabase_key: "anon-key"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid supabase_url, got nil")
	}
}

func TestLoad_MissingKey(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing supabase_key, got nil")
	}
}

func TestLoad_UnknownConflictPolicy(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
conflict_policy: "coin-flip"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown conflict_policy, got nil")
	}
}

func TestLoad_SyncIntervalTooShort(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
sync_interval: 10s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for sync_interval < 1m, got nil")
	}
}

func TestLoad_SyncIntervalTooLong(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
sync_interval: 48h
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for sync_interval > 24h, got nil")
	}
}

func TestLoad_ApplyConcurrencyOutOfRange(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
apply_concurrency: 100
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for apply_concurrency > 64, got nil")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
unknown_field: oops
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown config key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-marksync"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-marksync" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-marksync")
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
telemetry:
  insecure: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for telemetry missing otlp_endpoint, got nil")
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	path := writeConfig(t, `
supabase_url: "https://abcdefgh.supabase.co"
supabase_key: "anon-key"
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
	if cfg.Telemetry.Headers["x-dataset"] != "test" {
		t.Errorf("x-dataset header = %q, want %q", cfg.Telemetry.Headers["x-dataset"], "test")
	}
}
