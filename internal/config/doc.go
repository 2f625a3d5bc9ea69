// Package config handles configuration loading for parley-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  token_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and websocket relay
//
// Database:
//
//	database:
//	  path: "/var/lib/parley/gateway.db"
//
// Blob storage:
//
//	files:
//	  dir: "/var/lib/parley/files"
//	  max_upload_bytes: 26214400   # default 25 MiB
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"   # required, at least 32 bytes
//	  token_ttl: "24h"
//
// Relay:
//
//	relay:
//	  allowed_origins:
//	    - "https://app.parley.example"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "parley-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: "/var/lib/parley/tsnet"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - JWT secret presence and minimum length (32 bytes)
//   - Database path and files directory presence
//   - Server address unless Tailscale is enabled
//   - Duration format validity
//
// # Usage
//
//	cfg, err := config.Load("/etc/parley/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
