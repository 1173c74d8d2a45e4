// Package config handles configuration loading for attach-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults. The parsed Config is
// an immutable snapshot: components receive it (or a sub-struct) in their
// constructors and never re-read it at request time.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ATTACH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/attach/gateway.yaml
//  3. ~/.config/attach/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  issuer: "${OIDC_ISSUER}"
//	  audience: "${OIDC_AUD}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	tasks:
//	  ttl: "1h"
//	  dispatch_timeout: "60s"
//
// # Configuration Sections
//
// Server and downstream engine:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	engine:
//	  url: "http://localhost:11434"
//
// Credential verification:
//
//	auth:
//	  issuer: "https://your-tenant.auth0.com"
//	  audience: "attach-gateway"
//	  clock_skew: "60s"
//
// Memory mirror:
//
//	memory:
//	  backend: "sqlite"       # none, sqlite
//	  path: "./attach.db"
//	  fail_closed: false
//
// Token quota:
//
//	quota:
//	  enabled: true
//	  max_tokens_per_min: 60000
//	  backend: "memory"       # memory, redis
//	  redis_url: "${REDIS_URL}"
//
// Logging and metrics:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: false
//	  endpoint: "localhost:4317"
package config
