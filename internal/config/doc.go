// Package config handles configuration loading for hubgate.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HUBGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hubgate/config.yaml
//  3. ~/.config/hubgate/config.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${HUBGATE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Handshake Timeout
//
// auth.handshake_timeout bounds how long a socket may stay connected
// without authenticating:
//
//	handshake_timeout: "1s"     # Go duration
//	handshake_timeout: "1500"   # plain milliseconds
//	handshake_timeout: "none"   # watchdog disabled
//
// Left empty, the gate's one second default applies.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # websocket, health and API
//	  grpc_addr: "0.0.0.0:50051"  # optional grpc.health.v1
//
//	tailscale:
//	  enabled: false
//	  hostname: "hubgate"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: false
//
//	database:
//	  path: "/var/lib/hubgate/hubgate.db"
//
//	auth:
//	  jwt_secret: "${HUBGATE_JWT_SECRET}"  # at least 32 characters
//	  require_principal: false
//
//	hub:
//	  namespaces: ["/chat"]
//	  dynamic_namespaces: false
//	  ws_path: "/ws"
//	  allowed_origins: []
//	  close_grace: "2s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
