// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultWSPath           = "/ws"
	DefaultSendBuffer       = 256
	DefaultMaxMessageSize   = 8192
	DefaultWriteWait        = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultReceiptCacheTTL  = 5 * time.Minute
	DefaultReceiptCacheSize = 100_000
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	WSPath   string `yaml:"ws_path" toml:"ws_path"`

	// AllowedOrigins restricts websocket upgrades by Origin header.
	// Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// RealtimeConfig tunes per-connection transport behaviour and the
// read-receipt dedupe window.
type RealtimeConfig struct {
	SendBuffer       int `yaml:"send_buffer" toml:"send_buffer"`
	MaxMessageSize   int `yaml:"max_message_size" toml:"max_message_size"`
	ReceiptCacheSize int `yaml:"receipt_cache_size" toml:"receipt_cache_size"`

	WriteWait       time.Duration `yaml:"-" toml:"-"`
	PongWait        time.Duration `yaml:"-" toml:"-"`
	ReceiptCacheTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteWaitRaw       string `yaml:"write_wait" toml:"write_wait"`
	PongWaitRaw        string `yaml:"pong_wait" toml:"pong_wait"`
	ReceiptCacheTTLRaw string `yaml:"receipt_cache_ttl" toml:"receipt_cache_ttl"`
}

// PingPeriod is how often the server pings idle connections. It must be
// shorter than PongWait.
func (r RealtimeConfig) PingPeriod() time.Duration {
	return (r.PongWait * 9) / 10
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values, and CHAT_*
// environment overrides are applied before defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Server.WSPath == "" {
		c.Server.WSPath = DefaultWSPath
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = DefaultSendBuffer
	}
	if c.Realtime.MaxMessageSize <= 0 {
		c.Realtime.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Realtime.WriteWait <= 0 {
		c.Realtime.WriteWait = DefaultWriteWait
	}
	if c.Realtime.PongWait <= 0 {
		c.Realtime.PongWait = DefaultPongWait
	}
	if c.Realtime.ReceiptCacheTTL <= 0 {
		c.Realtime.ReceiptCacheTTL = DefaultReceiptCacheTTL
	}
	if c.Realtime.ReceiptCacheSize <= 0 {
		c.Realtime.ReceiptCacheSize = DefaultReceiptCacheSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Realtime.WriteWait >= c.Realtime.PongWait {
		return fmt.Errorf("realtime.write_wait (%s) must be shorter than realtime.pong_wait (%s)",
			c.Realtime.WriteWait, c.Realtime.PongWait)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"write_wait", cfg.Realtime.WriteWaitRaw, &cfg.Realtime.WriteWait},
		{"pong_wait", cfg.Realtime.PongWaitRaw, &cfg.Realtime.PongWait},
		{"receipt_cache_ttl", cfg.Realtime.ReceiptCacheTTLRaw, &cfg.Realtime.ReceiptCacheTTL},
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
