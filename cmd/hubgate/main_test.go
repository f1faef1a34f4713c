// ABOUTME: Tests for CLI helpers: generated config, logger setup and list parsing
// ABOUTME: The interactive prompts themselves are not exercised

package main

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hubgate/internal/config"
)

func TestRenderConfig_RoundTrips(t *testing.T) {
	secret, err := generateSecret()
	require.NoError(t, err)

	content := renderConfig(initAnswers{
		HTTPAddr:         "localhost:8080",
		GRPCAddr:         "localhost:50051",
		DBPath:           "/tmp/hubgate.db",
		JWTSecret:        secret,
		HandshakeTimeout: "1500",
		RequirePrincipal: true,
		Namespaces:       []string{"/chat", "news"},
		Dynamic:          true,
		TailscaleEnabled: true,
		TSHostname:       "hubgate",
		TSEphemeral:      true,
		LogLevel:         "debug",
		LogFormat:        "json",
	})

	cfg, err := config.Parse(content, config.FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "localhost:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, 1500*time.Millisecond, cfg.Auth.HandshakeTimeout)
	assert.True(t, cfg.Auth.RequirePrincipal)
	assert.Equal(t, []string{"/chat", "news"}, cfg.Hub.Namespaces)
	assert.True(t, cfg.Hub.DynamicNamespaces)
	assert.True(t, cfg.Tailscale.Enabled)
	assert.Equal(t, "hubgate", cfg.Tailscale.Hostname)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRenderConfig_NoTimeout(t *testing.T) {
	content := renderConfig(initAnswers{
		HTTPAddr:         ":8080",
		DBPath:           "hub.db",
		JWTSecret:        strings.Repeat("s", 32),
		HandshakeTimeout: "none",
		LogLevel:         "info",
		LogFormat:        "text",
	})

	cfg, err := config.Parse(content, config.FormatYAML)
	require.NoError(t, err)
	assert.True(t, cfg.Auth.HandshakeTimeoutDisabled)
	assert.Empty(t, cfg.Server.GRPCAddr)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b", "c"}, splitList("/a, /b c"))
	assert.Empty(t, splitList(""))
}

func TestPrompt(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\ncustom\nlast"))
	assert.Equal(t, "def", prompt(r, "q", "def"))
	assert.Equal(t, "custom", prompt(r, "q", "def"))
	assert.Equal(t, "last", prompt(r, "q", "def"))
	assert.Equal(t, "def", prompt(r, "q", "def"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "authgate").Info("socket authenticated", "socket_id", "5")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "socket authenticated")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "authgate")
	assert.Contains(t, out, "socket_id=")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("handshake timed out", "socket_id", "5")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"handshake timed out"`)
	assert.Contains(t, buf.String(), `"socket_id":"5"`)
}
