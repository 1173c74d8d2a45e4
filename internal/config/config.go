// ABOUTME: Configuration loading and parsing for attach-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete attach-gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Engine  EngineConfig  `yaml:"engine"`
	Memory  MemoryConfig  `yaml:"memory"`
	Tasks   TasksConfig   `yaml:"tasks"`
	Quota   QuotaConfig   `yaml:"quota"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds credential verification configuration
type AuthConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	ClockSkew    time.Duration `yaml:"-"`
	ClockSkewRaw string        `yaml:"clock_skew"`
}

// EngineConfig holds the downstream LLM engine configuration
type EngineConfig struct {
	URL string `yaml:"url"`
}

// MemoryConfig holds memory mirror backend configuration
type MemoryConfig struct {
	// Backend selects the mirror implementation: "none" or "sqlite"
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	FailClosed bool   `yaml:"fail_closed"`
}

// TasksConfig holds A2A task orchestration configuration
type TasksConfig struct {
	TTL             time.Duration `yaml:"-"`
	DispatchTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TTLRaw             string `yaml:"ttl"`
	DispatchTimeoutRaw string `yaml:"dispatch_timeout"`
}

// QuotaConfig holds per-user token quota configuration
type QuotaConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MaxTokensPerMin int    `yaml:"max_tokens_per_min"`
	Backend         string `yaml:"backend"` // "memory" or "redis"
	RedisURL        string `yaml:"redis_url"`

	Window    time.Duration `yaml:"-"`
	WindowRaw string        `yaml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds OTLP metric export configuration
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // OTLP gRPC endpoint, e.g. "localhost:4317"
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Defaults applied when the corresponding field is absent from the file.
const (
	DefaultClockSkew       = 60 * time.Second
	DefaultTaskTTL         = time.Hour
	DefaultDispatchTimeout = 60 * time.Second
	DefaultQuotaWindow     = 60 * time.Second
	DefaultMaxTokensPerMin = 60000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration bytes, expands environment variables,
// applies defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
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

// applyDefaults fills in zero-valued optional fields.
func (c *Config) applyDefaults() {
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = DefaultClockSkew
	}
	if c.Tasks.TTL == 0 {
		c.Tasks.TTL = DefaultTaskTTL
	}
	if c.Tasks.DispatchTimeout == 0 {
		c.Tasks.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.Quota.Window == 0 {
		c.Quota.Window = DefaultQuotaWindow
	}
	if c.Quota.MaxTokensPerMin == 0 {
		c.Quota.MaxTokensPerMin = DefaultMaxTokensPerMin
	}
	if c.Quota.Backend == "" {
		c.Quota.Backend = "memory"
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "none"
	}
	if c.Metrics.ServiceName == "" {
		c.Metrics.ServiceName = "attach-gateway"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.Auth.Audience == "" {
		return fmt.Errorf("auth.audience is required")
	}

	if c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required")
	}

	switch c.Memory.Backend {
	case "none", "sqlite":
	default:
		return fmt.Errorf("memory.backend must be %q or %q, got %q", "none", "sqlite", c.Memory.Backend)
	}
	if c.Memory.Backend == "sqlite" && c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required when memory.backend is sqlite")
	}

	switch c.Quota.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("quota.backend must be %q or %q, got %q", "memory", "redis", c.Quota.Backend)
	}
	if c.Quota.Enabled && c.Quota.Backend == "redis" && c.Quota.RedisURL == "" {
		return fmt.Errorf("quota.redis_url is required when quota.backend is redis")
	}

	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics.endpoint is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.ClockSkewRaw != "" {
		cfg.Auth.ClockSkew, err = time.ParseDuration(cfg.Auth.ClockSkewRaw)
		if err != nil {
			return fmt.Errorf("parsing clock_skew %q: %w", cfg.Auth.ClockSkewRaw, err)
		}
	}

	if cfg.Tasks.TTLRaw != "" {
		cfg.Tasks.TTL, err = time.ParseDuration(cfg.Tasks.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing tasks.ttl %q: %w", cfg.Tasks.TTLRaw, err)
		}
	}

	if cfg.Tasks.DispatchTimeoutRaw != "" {
		cfg.Tasks.DispatchTimeout, err = time.ParseDuration(cfg.Tasks.DispatchTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tasks.dispatch_timeout %q: %w", cfg.Tasks.DispatchTimeoutRaw, err)
		}
	}

	if cfg.Quota.WindowRaw != "" {
		cfg.Quota.Window, err = time.ParseDuration(cfg.Quota.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing quota.window %q: %w", cfg.Quota.WindowRaw, err)
		}
	}

	return nil
}
