// Package config handles configuration loading for mcph-gateway.
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
//	  token_secret: "${MCPH_TOKEN_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  request_timeout: "30s"
//	throttle:
//	  window: "1m"
//	streaming:
//	  heartbeat_interval: "15s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  base_url: "https://mcph.example.com"
//	  request_timeout: "30s"
//	  allowed_origins: ["https://app.example.com"]
//
// Database and blob storage:
//
//	database:
//	  path: "/var/lib/mcph/gateway.db"
//	blob:
//	  url: "file:///var/lib/mcph/crates"
//
// Authentication:
//
//	auth:
//	  token_secret: "${MCPH_TOKEN_SECRET}"  # Required
//	  key_file: "/etc/mcph/keys.toml"       # Optional seed keys
//	  key_cache_ttl: "5m"
//
// OAuth broker:
//
//	oauth:
//	  client_id: "${UPSTREAM_CLIENT_ID}"
//	  client_secret: "${UPSTREAM_CLIENT_SECRET}"
//	  auth_url: "https://idp.example.com/authorize"
//	  token_url: "https://idp.example.com/token"
//	  session_ttl: "5m"
//
// Rate limiting:
//
//	throttle:
//	  max_requests: 100
//	  window: "1m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
