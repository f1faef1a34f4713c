// ABOUTME: Configuration loading and parsing for hubgate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// TimeoutNone disables the handshake watchdog when used as handshake_timeout.
const TimeoutNone = "none"

// Defaults applied by Load when a field is left empty.
const (
	DefaultWSPath      = "/ws"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultCloseGrace  = 2 * time.Second
	minJWTSecretLength = 32
)

// Config represents the complete hubgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Hub       HubConfig       `yaml:"hub" toml:"hub"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional, serves grpc.health.v1
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve with Tailscale-provisioned certs on :443
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds handshake and token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	// RequirePrincipal rejects tokens whose subject is not an approved
	// principal in the database.
	RequirePrincipal bool `yaml:"require_principal" toml:"require_principal"`

	// HandshakeTimeout bounds how long a connection may stay
	// unauthenticated. Zero leaves the gate's default in place.
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`

	// HandshakeTimeoutDisabled is set by handshake_timeout: "none".
	HandshakeTimeoutDisabled bool `yaml:"-" toml:"-"`

	// Raw value: "none", a duration ("1500ms") or plain milliseconds ("1500").
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// HubConfig holds namespace and websocket configuration
type HubConfig struct {
	Namespaces        []string `yaml:"namespaces" toml:"namespaces"`
	DynamicNamespaces bool     `yaml:"dynamic_namespaces" toml:"dynamic_namespaces"`
	WSPath            string   `yaml:"ws_path" toml:"ws_path"`
	AllowedOrigins    []string `yaml:"allowed_origins" toml:"allowed_origins"`

	CloseGrace    time.Duration `yaml:"-" toml:"-"`
	CloseGraceRaw string        `yaml:"close_grace" toml:"close_grace"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, defaults and validates configuration text that has
// already had its environment variables expanded.
func Parse(text string, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Hub.WSPath == "" {
		c.Hub.WSPath = DefaultWSPath
	}
	if c.Hub.CloseGrace == 0 {
		c.Hub.CloseGrace = DefaultCloseGrace
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", minJWTSecretLength)
	}

	if !strings.HasPrefix(c.Hub.WSPath, "/") {
		return fmt.Errorf("hub.ws_path must start with /")
	}
	for _, ns := range c.Hub.Namespaces {
		if strings.TrimSpace(ns) == "" {
			return fmt.Errorf("hub.namespaces must not contain empty names")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if raw := strings.TrimSpace(cfg.Auth.HandshakeTimeoutRaw); raw != "" {
		cfg.Auth.HandshakeTimeout, cfg.Auth.HandshakeTimeoutDisabled, err = parseTimeout(raw)
		if err != nil {
			return fmt.Errorf("parsing handshake_timeout %q: %w", raw, err)
		}
	}

	if cfg.Hub.CloseGraceRaw != "" {
		cfg.Hub.CloseGrace, err = time.ParseDuration(cfg.Hub.CloseGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing close_grace %q: %w", cfg.Hub.CloseGraceRaw, err)
		}
		if cfg.Hub.CloseGrace < 0 {
			return fmt.Errorf("close_grace must not be negative")
		}
	}

	return nil
}

// parseTimeout accepts "none", plain milliseconds or a Go duration.
func parseTimeout(raw string) (d time.Duration, disabled bool, err error) {
	if strings.EqualFold(raw, TimeoutNone) {
		return 0, true, nil
	}
	if ms, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		d = time.Duration(ms) * time.Millisecond
	} else {
		d, err = time.ParseDuration(raw)
		if err != nil {
			return 0, false, err
		}
	}
	if d < 0 {
		return 0, false, fmt.Errorf("must not be negative")
	}
	return d, false, nil
}

// DefaultPath returns the config file location.
// Priority: HUBGATE_CONFIG env var > XDG_CONFIG_HOME/hubgate/config.yaml > ~/.config/hubgate/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv("HUBGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "hubgate", "config.yaml")
}

// DefaultDataDir returns the data directory.
// Priority: XDG_DATA_HOME/hubgate > ~/.local/share/hubgate
func DefaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "hubgate")
}
