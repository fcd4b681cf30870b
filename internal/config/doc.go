// Package config handles configuration loading for parley.
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
//	database:
//	  path: "${PARLEY_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	streams:
//	  poll_interval: "1s"
//	assistants:
//	  forward_timeout: "10s"
//	  online_check_interval: "10s"
//	  online_ttl: "20s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and event streams
//
// Database:
//
//	database:
//	  path: "/var/lib/parley/parley.db"
//
// Event streams:
//
//	streams:
//	  poll_interval: "1s"   # wake interval for disconnect checks
//
// Assistant delivery:
//
//	assistants:
//	  forward_timeout: "10s"        # per-event HTTP delivery timeout
//	  online_check_interval: "10s"  # how often stale registrations expire
//	  online_ttl: "20s"             # how long a heartbeat keeps an assistant online
//
// Shutdown:
//
//	shutdown:
//	  grace_period: "5s"
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
//   - server.http_addr and database.path presence
//   - Duration format validity
//   - online_ttl exceeding online_check_interval
//
// # Usage
//
//	cfg, err := config.Load("/etc/parley/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
