// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Auth      AuthConfig              `mapstructure:"auth"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Browser   BrowserConfig           `mapstructure:"browser"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Artifacts ArtifactsConfig         `mapstructure:"artifacts"`
	Database  DatabaseConfig          `mapstructure:"database"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Events    EventsConfig            `mapstructure:"events"`
	Telemetry TelemetryConfig         `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	FrontendURL           string `mapstructure:"frontend_url"`
	Environment           string `mapstructure:"environment"`
}

// AuthConfig guards the admin endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserConfig configures the shared headless browser.
type BrowserConfig struct {
	Headless             bool   `mapstructure:"headless"`
	ExecPath             string `mapstructure:"exec_path"`
	NoSandbox            bool   `mapstructure:"no_sandbox"`
	UserAgent            string `mapstructure:"user_agent"`
	LaunchTimeoutSeconds int    `mapstructure:"launch_timeout_seconds"`
	SettleMs             int    `mapstructure:"settle_ms"`
	Prelaunch            bool   `mapstructure:"prelaunch"`
}

// SourceConfig tunes one pharmacy source.
type SourceConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	TimeoutMs int     `mapstructure:"timeout_ms"`
	RPS       float64 `mapstructure:"rps"`
	Burst     int     `mapstructure:"burst"`
	// Endpoint overrides the upstream URL of API-backed sources.
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig configures the API fetcher's retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// ArtifactsConfig controls raw document capture.
type ArtifactsConfig struct {
	Enabled bool                 `mapstructure:"enabled"`
	Backend string               `mapstructure:"backend"`
	Bucket  string               `mapstructure:"bucket"`
	Prefix  string               `mapstructure:"prefix"`
	Local   LocalArtifactsConfig `mapstructure:"local"`
}

// LocalArtifactsConfig configures the filesystem backend.
type LocalArtifactsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls the Postgres history store. An empty DSN keeps
// history in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// WriteTimeout bounds the history write that follows every search.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig tunes the task event hub.
type EventsConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	LogEnabled    bool        `mapstructure:"log_enabled"`
	BufferSize    int         `mapstructure:"buffer_size"`
	Batch         BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds one event flush.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

var defaultTimeoutsMs = map[retrieval.Source]int{
	retrieval.SourceApollo:    20000,
	retrieval.SourcePharmEasy: 20000,
	retrieval.SourceNetmeds:   55000,
	retrieval.SourceOneMg:     20000,
	retrieval.SourceTruemeds:  50000,
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDPRICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindPlainEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindPlainEnv honors the unprefixed variables common on hosting platforms.
func bindPlainEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":         {"MEDPRICE_SERVER_PORT", "PORT"},
		"server.frontend_url": {"MEDPRICE_SERVER_FRONTEND_URL", "FRONTEND_URL"},
		"server.environment":  {"MEDPRICE_SERVER_ENVIRONMENT", "ENVIRONMENT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 90)
	v.SetDefault("server.frontend_url", "")
	v.SetDefault("server.environment", "development")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.launch_timeout_seconds", 30)
	v.SetDefault("browser.settle_ms", 5000)
	v.SetDefault("browser.prelaunch", true)
	for src, ms := range defaultTimeoutsMs {
		prefix := "sources." + string(src) + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"timeout_ms", ms)
		v.SetDefault(prefix+"rps", 0)
		v.SetDefault(prefix+"burst", 1)
		v.SetDefault(prefix+"endpoint", "")
	}
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("artifacts.enabled", false)
	v.SetDefault("artifacts.backend", "memory")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.prefix", "documents")
	v.SetDefault("artifacts.local.base_dir", "data/artifacts")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "search_history")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.write_timeout", "1s")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.batch.max_events", 100)
	v.SetDefault("events.batch.max_wait_ms", 250)
	v.SetDefault("events.sink_timeout_ms", 5000)
	v.SetDefault("telemetry.service_name", "medprice")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := retrieval.ParseSource(name); !ok {
			return fmt.Errorf("sources.%s: unknown source", name)
		}
		if c.Sources[name].TimeoutMs <= 0 {
			return fmt.Errorf("sources.%s.timeout_ms must be > 0", name)
		}
		if c.Sources[name].RPS < 0 {
			return fmt.Errorf("sources.%s.rps must be >= 0", name)
		}
	}
	switch c.Artifacts.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("artifacts.backend %q must be one of memory, local, gcs", c.Artifacts.Backend)
	}
	if c.Artifacts.Enabled && c.Artifacts.Backend == "gcs" && c.Artifacts.Bucket == "" {
		return fmt.Errorf("artifacts.bucket must be set for the gcs backend")
	}
	if c.Artifacts.Enabled && c.Artifacts.Backend == "local" && c.Artifacts.Local.BaseDir == "" {
		return fmt.Errorf("artifacts.local.base_dir must be set for the local backend")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be > 0 when events are enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// EnabledSources returns the default enabled set.
func (c Config) EnabledSources() map[retrieval.Source]bool {
	out := make(map[retrieval.Source]bool, len(c.Sources))
	for name, sc := range c.Sources {
		if src, ok := retrieval.ParseSource(name); ok {
			out[src] = sc.Enabled
		}
	}
	return out
}

// SourceTimeouts converts per-source millisecond budgets into durations.
func (c Config) SourceTimeouts() map[retrieval.Source]time.Duration {
	out := make(map[retrieval.Source]time.Duration, len(c.Sources))
	for name, sc := range c.Sources {
		if src, ok := retrieval.ParseSource(name); ok && sc.TimeoutMs > 0 {
			out[src] = time.Duration(sc.TimeoutMs) * time.Millisecond
		}
	}
	return out
}

// RequestTimeout bounds one inbound HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// FetchBudget converts the HTTP timeout into a duration.
func (c Config) FetchBudget() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
