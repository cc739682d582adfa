package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"

	"chatinbox/internal/domain"
)

// Config is the root configuration for chatinbox.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Realtime RealtimeConfig `json:"realtime"`
	Metrics  MetricsConfig  `json:"metrics"`
	Ingest   IngestConfig   `json:"ingest"`
	Gateway  GatewayConfig  `json:"gateway"`
	Identity IdentityConfig `json:"identity"`
	Relay    RelayConfig    `json:"relay"`
	Bots     BotsConfig     `json:"bots"`
	Quota    QuotaConfig    `json:"quota"`
	Tracing  TracingConfig  `json:"tracing"`
	Database DatabaseConfig `json:"database"`

	Tenants []domain.Tenant `json:"tenants"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
}

type RealtimeConfig struct {
	Path string `json:"path"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// IngestConfig selects how accepted deliveries reach the router.
type IngestConfig struct {
	Mode             string `json:"mode"` // "sync" | "queue"
	Workers          int    `json:"workers"`
	QueueSize        int    `json:"queueSize"`
	FallbackIDPolicy string `json:"fallbackIdPolicy"` // "unique" | "deterministic"
}

type GatewayConfig struct {
	APIBase            string  `json:"apiBase"`
	TimeoutSeconds     int     `json:"timeoutSeconds"`
	RateLimitPerMinute float64 `json:"rateLimitPerMinute"`
	MaxRetries         int     `json:"maxRetries"`
}

type IdentityConfig struct {
	ContactDomain string `json:"contactDomain"`
}

type RelayConfig struct {
	HTTP HTTPRelayConfig `json:"http"`
	AMQP AMQPRelayConfig `json:"amqp"`
}

type HTTPRelayConfig struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeoutSeconds"`
	MaxRetries     int  `json:"maxRetries"`
}

type AMQPRelayConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url,omitempty"`
	Exchange string `json:"exchange"`
}

type BotsConfig struct {
	File       string `json:"file,omitempty"`
	MaxRetries int    `json:"maxRetries"`
}

// QuotaConfig holds the plan applied to tenants that carry none.
type QuotaConfig struct {
	DefaultPlan domain.Plan `json:"defaultPlan"`
}

type TracingConfig struct {
	Endpoint    string  `json:"endpoint,omitempty"`
	ServiceName string  `json:"serviceName"`
	SampleRatio float64 `json:"sampleRatio"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.chatinbox).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatinbox"
	}
	return filepath.Join(home, ".chatinbox")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the file at path, expands ${VAR} references, applies
// CHATINBOX_* overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Bots.File = ExpandPath(cfg.Bots.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envOverrides lists the variables ApplyEnv honours.
type envOverrides struct {
	LogLevel   string  `env:"CHATINBOX_LOG_LEVEL"`
	Port       int     `env:"CHATINBOX_PORT"`
	DBPath     string  `env:"CHATINBOX_DB_PATH"`
	APIBase    string  `env:"CHATINBOX_GATEWAY_API_BASE"`
	AMQPURL    string  `env:"CHATINBOX_AMQP_URL"`
	OTelURL    string  `env:"CHATINBOX_OTEL_ENDPOINT"`
	IngestMode string  `env:"CHATINBOX_INGEST_MODE"`
	Sample     float64 `env:"CHATINBOX_OTEL_SAMPLE_RATIO"`
}

// ApplyEnv overlays CHATINBOX_* environment variables onto cfg. Unset
// variables leave the file values alone.
func ApplyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.General.LogLevel, o.LogLevel)
	setString(&cfg.Database.Path, o.DBPath)
	setString(&cfg.Gateway.APIBase, o.APIBase)
	setString(&cfg.Ingest.Mode, o.IngestMode)
	setString(&cfg.Tracing.Endpoint, o.OTelURL)
	if o.AMQPURL != "" {
		cfg.Relay.AMQP.URL = o.AMQPURL
		cfg.Relay.AMQP.Enabled = true
	}
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.Sample != 0 {
		cfg.Tracing.SampleRatio = o.Sample
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} falls back to "default" when VAR is unset or empty; a
// reference with no value and no default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, ok := os.LookupEnv(groups[1])
		if !ok || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if !strings.HasPrefix(cfg.Realtime.Path, "/") {
		errs = append(errs, "realtime.path must start with /")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	switch cfg.Ingest.Mode {
	case "sync", "queue":
	default:
		errs = append(errs, "ingest.mode must be one of: sync, queue")
	}
	if cfg.Ingest.Mode == "queue" {
		if cfg.Ingest.Workers < 1 || cfg.Ingest.Workers > 256 {
			errs = append(errs, "ingest.workers must be between 1 and 256")
		}
		if cfg.Ingest.QueueSize < 1 {
			errs = append(errs, "ingest.queueSize must be >= 1")
		}
	}
	switch cfg.Ingest.FallbackIDPolicy {
	case "unique", "deterministic":
	default:
		errs = append(errs, "ingest.fallbackIdPolicy must be one of: unique, deterministic")
	}

	if cfg.Gateway.APIBase == "" {
		errs = append(errs, "gateway.apiBase is required")
	}
	if cfg.Gateway.MaxRetries < 0 {
		errs = append(errs, "gateway.maxRetries must be >= 0")
	}
	if cfg.Identity.ContactDomain == "" {
		errs = append(errs, "identity.contactDomain is required")
	}
	if cfg.Relay.AMQP.Enabled && cfg.Relay.AMQP.URL == "" {
		errs = append(errs, "relay.amqp.url is required when relay.amqp is enabled")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	seen := make(map[string]bool, len(cfg.Tenants))
	for i, t := range cfg.Tenants {
		switch {
		case t.ID == "":
			errs = append(errs, fmt.Sprintf("tenants[%d]: id is required", i))
		case seen[t.ID]:
			errs = append(errs, fmt.Sprintf("tenants[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
