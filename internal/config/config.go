// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Streams    StreamsConfig    `yaml:"streams"`
	Assistants AssistantsConfig `yaml:"assistants"`
	Shutdown   ShutdownConfig   `yaml:"shutdown"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StreamsConfig holds event stream timing configuration
type StreamsConfig struct {
	PollInterval time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
}

// AssistantsConfig holds assistant delivery and liveness configuration
type AssistantsConfig struct {
	ForwardTimeout      time.Duration `yaml:"-"`
	OnlineCheckInterval time.Duration `yaml:"-"`
	OnlineTTL           time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ForwardTimeoutRaw      string `yaml:"forward_timeout"`
	OnlineCheckIntervalRaw string `yaml:"online_check_interval"`
	OnlineTTLRaw           string `yaml:"online_ttl"`
}

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	GracePeriod time.Duration `yaml:"-"`

	GracePeriodRaw string `yaml:"grace_period"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves a value unset.
const (
	DefaultPollInterval        = time.Second
	DefaultForwardTimeout      = 10 * time.Second
	DefaultOnlineCheckInterval = 10 * time.Second
	DefaultOnlineTTL           = 20 * time.Second
	DefaultShutdownGracePeriod = 5 * time.Second
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
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

	if c.Assistants.OnlineTTL <= c.Assistants.OnlineCheckInterval {
		return fmt.Errorf("assistants.online_ttl must be greater than assistants.online_check_interval")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Streams.PollInterval == 0 {
		c.Streams.PollInterval = DefaultPollInterval
	}
	if c.Assistants.ForwardTimeout == 0 {
		c.Assistants.ForwardTimeout = DefaultForwardTimeout
	}
	if c.Assistants.OnlineCheckInterval == 0 {
		c.Assistants.OnlineCheckInterval = DefaultOnlineCheckInterval
	}
	if c.Assistants.OnlineTTL == 0 {
		c.Assistants.OnlineTTL = DefaultOnlineTTL
	}
	if c.Shutdown.GracePeriod == 0 {
		c.Shutdown.GracePeriod = DefaultShutdownGracePeriod
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Streams.PollIntervalRaw, &cfg.Streams.PollInterval, "streams.poll_interval"},
		{cfg.Assistants.ForwardTimeoutRaw, &cfg.Assistants.ForwardTimeout, "assistants.forward_timeout"},
		{cfg.Assistants.OnlineCheckIntervalRaw, &cfg.Assistants.OnlineCheckInterval, "assistants.online_check_interval"},
		{cfg.Assistants.OnlineTTLRaw, &cfg.Assistants.OnlineTTL, "assistants.online_ttl"},
		{cfg.Shutdown.GracePeriodRaw, &cfg.Shutdown.GracePeriod, "shutdown.grace_period"},
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
