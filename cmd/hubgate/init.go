// ABOUTME: Interactive creation of a hubgate config file
// ABOUTME: Prompts for addresses, namespaces and handshake settings and generates a JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/hubgate/internal/config"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr         string
	GRPCAddr         string
	DBPath           string
	JWTSecret        string
	HandshakeTimeout string
	RequirePrincipal bool
	Namespaces       []string
	Dynamic          bool
	TailscaleEnabled bool
	TSHostname       string
	TSAuthKey        string
	TSEphemeral      bool
	LogLevel         string
	LogFormat        string
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

// splitList parses a comma or space separated list.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func runInit(args []string) error {
	fs, configPath := newFlagSet("init")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("hubgate configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", *configPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	a := initAnswers{JWTSecret: secret}

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.GRPCAddr = prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(config.DefaultDataDir(), "hubgate.db"))

	fmt.Println("\n--- Authentication ---")
	a.HandshakeTimeout = prompt(reader, "Handshake timeout (duration, milliseconds or none)", "1s")
	a.RequirePrincipal = yes(prompt(reader, "Require registered principals?", "no"))

	fmt.Println("\n--- Hub ---")
	a.Namespaces = splitList(prompt(reader, "Namespaces besides / (comma separated)", ""))
	a.Dynamic = yes(prompt(reader, "Allow clients to create namespaces?", "no"))

	fmt.Println("\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TSHostname = prompt(reader, "Tailscale hostname", "hubgate")
		a.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TSEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(a)
	if _, err := config.Parse(content, config.FormatYAML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the JWT secret.
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  hubgate serve --config %s\n", outputFile)

	return nil
}

// renderConfig produces the YAML config file for the given answers.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# hubgate configuration\n")
	cfg.WriteString("# Generated by hubgate init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	if a.GRPCAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
	if a.HandshakeTimeout != "" {
		fmt.Fprintf(&cfg, "  handshake_timeout: %q\n", a.HandshakeTimeout)
	}
	fmt.Fprintf(&cfg, "  require_principal: %t\n", a.RequirePrincipal)
	cfg.WriteString("\n")

	cfg.WriteString("hub:\n")
	if len(a.Namespaces) > 0 {
		cfg.WriteString("  namespaces:\n")
		for _, ns := range a.Namespaces {
			fmt.Fprintf(&cfg, "    - %q\n", ns)
		}
	}
	fmt.Fprintf(&cfg, "  dynamic_namespaces: %t\n", a.Dynamic)
	cfg.WriteString("  ws_path: \"/ws\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.TailscaleEnabled)
	if a.TailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
		if a.TSAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TSAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TSEphemeral)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
