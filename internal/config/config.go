// ABOUTME: Configuration loading and parsing for mcph-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mcph-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Auth      AuthConfig      `yaml:"auth"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Streaming StreamingConfig `yaml:"streaming"`
}

// ServerConfig holds server address and timeout configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	BaseURL  string `yaml:"base_url"` // external URL used in OAuth discovery metadata

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`

	// AllowedOrigins for CORS. Empty list means wildcard.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BlobConfig holds blob store configuration.
// URL is a gocloud.dev bucket URL, e.g. "file:///var/lib/mcph/crates" or "mem://".
type BlobConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// TokenSecret signs OAuth exchange tokens (HS256).
	TokenSecret string `yaml:"token_secret"`

	// KeyFile is an optional TOML file of operator-provisioned API keys
	// loaded into the store at startup.
	KeyFile string `yaml:"key_file"`

	KeyCacheTTL    time.Duration `yaml:"-"`
	KeyCacheTTLRaw string        `yaml:"key_cache_ttl"`
}

// OAuthConfig holds the authorization-code broker configuration
type OAuthConfig struct {
	// Upstream identity provider. When AuthURL/TokenURL are empty the
	// broker falls back to the local dev exchanger.
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"user_info_url"`
	Scopes       []string `yaml:"scopes"`

	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
}

// ThrottleConfig holds rate-limiting configuration
type ThrottleConfig struct {
	MaxRequests int `yaml:"max_requests"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSamples int  `yaml:"max_samples"`
}

// StreamingConfig holds SSE transport configuration
type StreamingConfig struct {
	HeartbeatInterval    time.Duration `yaml:"-"`
	HeartbeatIntervalRaw string        `yaml:"heartbeat_interval"`
}

// Defaults applied after parsing when fields are unset.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultKeyCacheTTL       = 5 * time.Minute
	DefaultSessionTTL        = 5 * time.Minute
	DefaultThrottleWindow    = time.Minute
	DefaultThrottleMax       = 100
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxSamples        = 1000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required")
	}

	if c.Throttle.MaxRequests < 0 {
		return fmt.Errorf("throttle.max_requests must not be negative")
	}

	return nil
}

// applyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Auth.KeyCacheTTL == 0 {
		c.Auth.KeyCacheTTL = DefaultKeyCacheTTL
	}
	if c.OAuth.SessionTTL == 0 {
		c.OAuth.SessionTTL = DefaultSessionTTL
	}
	if c.Throttle.Window == 0 {
		c.Throttle.Window = DefaultThrottleWindow
	}
	if c.Throttle.MaxRequests == 0 {
		c.Throttle.MaxRequests = DefaultThrottleMax
	}
	if c.Streaming.HeartbeatInterval == 0 {
		c.Streaming.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Metrics.MaxSamples == 0 {
		c.Metrics.MaxSamples = DefaultMaxSamples
	}
	if c.Blob.URL == "" {
		c.Blob.URL = "mem://"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout, "request_timeout"},
		{cfg.Auth.KeyCacheTTLRaw, &cfg.Auth.KeyCacheTTL, "key_cache_ttl"},
		{cfg.OAuth.SessionTTLRaw, &cfg.OAuth.SessionTTL, "session_ttl"},
		{cfg.Throttle.WindowRaw, &cfg.Throttle.Window, "window"},
		{cfg.Streaming.HeartbeatIntervalRaw, &cfg.Streaming.HeartbeatInterval, "heartbeat_interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
