// Package config handles configuration loading for the messaging gateway.
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
//	  jwt_secret: "${BABU_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//
// Database settings (driver is "sqlite" or "bolt"):
//
//	database:
//	  driver: "sqlite"
//	  path: "./messages.db"
//
// Auth settings (mode is "jwt", or "header" behind an authenticating proxy):
//
//	auth:
//	  mode: "jwt"
//	  jwt_secret: "${BABU_JWT_SECRET}"
//
// Logging and metrics:
//
//	logging:
//	  level: "info"
//	  format: "text"
//
//	metrics:
//	  enabled: true
package config
