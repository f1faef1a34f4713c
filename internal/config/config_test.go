// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and timeout parsing

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  handshake_timeout: "2500ms"
  require_principal: true

hub:
  namespaces: ["/chat", "/news"]
  dynamic_namespaces: true
  allowed_origins: ["example.com"]
  close_grace: "5s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "0.0.0.0:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 2500*time.Millisecond, cfg.Auth.HandshakeTimeout)
	assert.False(t, cfg.Auth.HandshakeTimeoutDisabled)
	assert.True(t, cfg.Auth.RequirePrincipal)
	assert.Equal(t, []string{"/chat", "/news"}, cfg.Hub.Namespaces)
	assert.True(t, cfg.Hub.DynamicNamespaces)
	assert.Equal(t, []string{"example.com"}, cfg.Hub.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Hub.CloseGrace)
	assert.Equal(t, DefaultWSPath, cfg.Hub.WSPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9000"

[database]
path = "/tmp/hub.db"

[auth]
jwt_secret = "`+testSecret+`"
handshake_timeout = "none"

[hub]
namespaces = ["/chat"]
ws_path = "/socket"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/hub.db", cfg.Database.Path)
	assert.True(t, cfg.Auth.HandshakeTimeoutDisabled)
	assert.Zero(t, cfg.Auth.HandshakeTimeout)
	assert.Equal(t, []string{"/chat"}, cfg.Hub.Namespaces)
	assert.Equal(t, "/socket", cfg.Hub.WSPath)
	assert.Equal(t, DefaultCloseGrace, cfg.Hub.CloseGrace)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HUBGATE_TEST_SECRET", testSecret)
	t.Setenv("HUBGATE_TEST_DB", "/var/lib/hubgate/hub.db")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "${HUBGATE_TEST_DB}"
auth:
  jwt_secret: "${HUBGATE_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "/var/lib/hubgate/hub.db", cfg.Database.Path)
}

func TestExpandEnvVars_UnsetBecomesEmpty(t *testing.T) {
	assert.Equal(t, "a--b", expandEnvVars("a-${HUBGATE_TEST_DEFINITELY_UNSET}-b"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", "server: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		raw      string
		want     time.Duration
		disabled bool
		wantErr  bool
	}{
		{raw: "none", disabled: true},
		{raw: "NONE", disabled: true},
		{raw: "1500", want: 1500 * time.Millisecond},
		{raw: "0", want: 0},
		{raw: "2s", want: 2 * time.Second},
		{raw: "250ms", want: 250 * time.Millisecond},
		{raw: "-5", wantErr: true},
		{raw: "-1s", wantErr: true},
		{raw: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, disabled, err := parseTimeout(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.disabled, disabled)
		})
	}
}

func TestParse_BadDurations(t *testing.T) {
	base := "server:\n  http_addr: \":8080\"\ndatabase:\n  path: \"x.db\"\nauth:\n  jwt_secret: \"" + testSecret + "\"\n"

	_, err := Parse(base+"  handshake_timeout: \"later\"\n", FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake_timeout")

	_, err = Parse(base+"hub:\n  close_grace: \"-1s\"\n", FormatYAML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close_grace")
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Database: DatabaseConfig{Path: "hub.db"},
		Auth:     AuthConfig{JWTSecret: testSecret},
		Hub:      HubConfig{WSPath: DefaultWSPath},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr is required",
		},
		{
			name: "tailscale replaces http addr",
			mutate: func(c *Config) {
				c.Server.HTTPAddr = ""
				c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "hubgate"}
			},
		},
		{
			name:    "tailscale without hostname",
			mutate:  func(c *Config) { c.Tailscale.Enabled = true },
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path is required",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "auth.jwt_secret must be at least 32 characters",
		},
		{
			name:    "relative ws path",
			mutate:  func(c *Config) { c.Hub.WSPath = "ws" },
			wantErr: "hub.ws_path must start with /",
		},
		{
			name:    "empty namespace",
			mutate:  func(c *Config) { c.Hub.Namespaces = []string{"/chat", " "} },
			wantErr: "hub.namespaces must not contain empty names",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("HUBGATE_CONFIG", "/etc/hubgate.toml")
		assert.Equal(t, "/etc/hubgate.toml", DefaultPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("HUBGATE_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "hubgate", "config.yaml"), DefaultPath())
	})
}

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "hubgate"), DefaultDataDir())
}
