// Package config loads and validates the marksync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// SupabaseURL is the base URL of the Supabase project
	// (e.g. "https://abcdefgh.supabase.co").
	SupabaseURL string `yaml:"supabase_url"`

	// SupabaseKey is the project's anon API key, sent as the apikey header
	// on every PostgREST and Realtime request.
	SupabaseKey string `yaml:"supabase_key"`

	// ConflictPolicy selects the conflict resolver: "remote-wins" (default)
	// or "last-writer-wins".
	ConflictPolicy string `yaml:"conflict_policy"`

	// SyncInterval controls the daemon's periodic fallback sync, covering
	// changes the realtime listener missed. Minimum 1m, maximum 24h.
	// Defaults to 15m if unset.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// ViewThrottle is the minimum interval between view-appear triggered
	// passes. Defaults to 15m if unset.
	ViewThrottle time.Duration `yaml:"view_throttle"`

	// ToggleDebounce is the quiet period after a favorite toggle before a
	// pass starts, coalescing rapid toggles. Defaults to 1s if unset.
	ToggleDebounce time.Duration `yaml:"toggle_debounce"`

	// ApplyConcurrency bounds how many remote writes a pass issues at once.
	// Defaults to 4 if unset.
	ApplyConcurrency int `yaml:"apply_concurrency"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "marksync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/marksync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "marksync", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write marshals the config to YAML and writes it to path with owner-only
// permissions, creating parent directories as needed. The config is
// validated first so a wizard cannot persist a broken file.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("refusing to write invalid config: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("supabase_url is required")
	}
	u, err := url.ParseRequestURI(c.SupabaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("supabase_url %q must be a valid http or https URL", c.SupabaseURL)
	}

	if c.SupabaseKey == "" {
		return fmt.Errorf("supabase_key is required")
	}

	switch c.ConflictPolicy {
	case "", "remote-wins", "last-writer-wins":
	default:
		return fmt.Errorf("conflict_policy %q must be \"remote-wins\" or \"last-writer-wins\"", c.ConflictPolicy)
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = 15 * time.Minute
	}
	if c.SyncInterval < time.Minute {
		return fmt.Errorf("sync_interval %v is too short (minimum 1m)", c.SyncInterval)
	}
	if c.SyncInterval > 24*time.Hour {
		return fmt.Errorf("sync_interval %v is too long (maximum 24h)", c.SyncInterval)
	}

	if c.ViewThrottle == 0 {
		c.ViewThrottle = 15 * time.Minute
	}
	if c.ViewThrottle < 0 {
		return fmt.Errorf("view_throttle must not be negative")
	}

	if c.ToggleDebounce == 0 {
		c.ToggleDebounce = time.Second
	}
	if c.ToggleDebounce < 0 {
		return fmt.Errorf("toggle_debounce must not be negative")
	}

	if c.ApplyConcurrency == 0 {
		c.ApplyConcurrency = 4
	}
	if c.ApplyConcurrency < 1 || c.ApplyConcurrency > 64 {
		return fmt.Errorf("apply_concurrency %d must be between 1 and 64", c.ApplyConcurrency)
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
