package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Browser.Headless || !cfg.Browser.Prelaunch {
		t.Fatalf("expected headless prelaunched browser by default, got %+v", cfg.Browser)
	}
	timeouts := cfg.SourceTimeouts()
	want := map[retrieval.Source]time.Duration{
		retrieval.SourceApollo:    20 * time.Second,
		retrieval.SourcePharmEasy: 20 * time.Second,
		retrieval.SourceNetmeds:   55 * time.Second,
		retrieval.SourceOneMg:     20 * time.Second,
		retrieval.SourceTruemeds:  50 * time.Second,
	}
	for src, d := range want {
		if timeouts[src] != d {
			t.Fatalf("timeout for %s = %v, want %v", src, timeouts[src], d)
		}
	}
	for _, src := range retrieval.AllSources() {
		if !cfg.EnabledSources()[src] {
			t.Fatalf("expected %s enabled by default", src)
		}
	}
	if cfg.Database.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("expected 30m conn lifetime, got %v", cfg.Database.MaxConnLifetime)
	}
	if cfg.Database.WriteTimeout != time.Second {
		t.Fatalf("expected 1s history write timeout, got %v", cfg.Database.WriteTimeout)
	}
	if cfg.Events.Batch.MaxEvents != 100 {
		t.Fatalf("expected batch size 100, got %d", cfg.Events.Batch.MaxEvents)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  frontend_url: https://medprice.example.com
  environment: production
auth:
  enabled: true
  api_key: secret
logging:
  development: false
browser:
  headless: false
  exec_path: /usr/bin/chromium
  settle_ms: 1500
  prelaunch: false
sources:
  apollo:
    enabled: false
  netmeds:
    timeout_ms: 60000
    rps: 0.5
    burst: 2
http:
  timeout_seconds: 20
  max_retries: 4
artifacts:
  enabled: true
  backend: local
  local:
    base_dir: /tmp/medprice
database:
  dsn: postgres://localhost/medprice
  max_conn_lifetime: 5m
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Environment != "production" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.FrontendURL != "https://medprice.example.com" {
		t.Fatalf("unexpected frontend url %q", cfg.Server.FrontendURL)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
	if cfg.Browser.Headless || cfg.Browser.ExecPath != "/usr/bin/chromium" || cfg.Browser.SettleMs != 1500 {
		t.Fatalf("unexpected browser config: %+v", cfg.Browser)
	}
	enabled := cfg.EnabledSources()
	if enabled[retrieval.SourceApollo] || !enabled[retrieval.SourceNetmeds] {
		t.Fatalf("unexpected enabled set: %v", enabled)
	}
	if cfg.Sources["apollo"].TimeoutMs != 20000 {
		t.Fatalf("expected apollo to keep its default timeout, got %d", cfg.Sources["apollo"].TimeoutMs)
	}
	netmeds := cfg.Sources["netmeds"]
	if netmeds.TimeoutMs != 60000 || netmeds.RPS != 0.5 || netmeds.Burst != 2 {
		t.Fatalf("unexpected netmeds config: %+v", netmeds)
	}
	if cfg.FetchBudget() != 20*time.Second {
		t.Fatalf("unexpected fetch budget %v", cfg.FetchBudget())
	}
	if cfg.Artifacts.Local.BaseDir != "/tmp/medprice" {
		t.Fatalf("unexpected artifacts config: %+v", cfg.Artifacts)
	}
	if cfg.Database.MaxConnLifetime != 5*time.Minute {
		t.Fatalf("unexpected conn lifetime %v", cfg.Database.MaxConnLifetime)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("FRONTEND_URL", "https://app.example.com")
	t.Setenv("MEDPRICE_SOURCES_TRUEMEDS_TIMEOUT_MS", "12000")
	t.Setenv("MEDPRICE_BROWSER_NO_SANDBOX", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Fatalf("expected PORT to override, got %d", cfg.Server.Port)
	}
	if cfg.Server.FrontendURL != "https://app.example.com" {
		t.Fatalf("expected FRONTEND_URL to override, got %q", cfg.Server.FrontendURL)
	}
	if cfg.SourceTimeouts()[retrieval.SourceTruemeds] != 12*time.Second {
		t.Fatalf("unexpected truemeds timeout %v", cfg.SourceTimeouts()[retrieval.SourceTruemeds])
	}
	if cfg.Browser.NoSandbox {
		t.Fatal("expected no_sandbox override")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		HTTP:      HTTPConfig{TimeoutSeconds: 15},
		Sources:   map[string]SourceConfig{"apollo": {Enabled: true, TimeoutMs: 20000}},
		Artifacts: ArtifactsConfig{Backend: "memory"},
		Events:    EventsConfig{Enabled: true, BufferSize: 16},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "http timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, wantErr: "http.timeout_seconds"},
		{name: "unknown source", mutate: func(c *Config) {
			c.Sources["walmart"] = SourceConfig{TimeoutMs: 1}
		}, wantErr: "unknown source"},
		{name: "source timeout", mutate: func(c *Config) {
			c.Sources["apollo"] = SourceConfig{TimeoutMs: 0}
		}, wantErr: "sources.apollo.timeout_ms"},
		{name: "backend", mutate: func(c *Config) { c.Artifacts.Backend = "s3" }, wantErr: "artifacts.backend"},
		{name: "gcs bucket", mutate: func(c *Config) {
			c.Artifacts = ArtifactsConfig{Enabled: true, Backend: "gcs"}
		}, wantErr: "artifacts.bucket"},
		{name: "event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "events.buffer_size"},
		{name: "auth key", mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: "auth.api_key"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}
