// Package config loads runtime configuration for the SquadUp client core.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the backend HTTP API
//	-f string   path of the local sqlite database file
//	-i int      online status check interval (seconds)
//	-r int      total dispatch attempts per request
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "500ms" or integer nanoseconds:
//
//	{
//	  "server_base_url": "https://api.squadup.example",
//	  "database_path": "squadup.db",
//	  "request_timeout": "30s",
//	  "max_attempts": 3,
//	  "base_delay": "500ms",
//	  "max_delay": "30s",
//	  "retry_after_default": "5s",
//	  "online_check_interval": "3s",
//	  "dead_letter_after": 0
//	}
//
// Primary API
//
//   - type Config                     — holds the client runtime settings
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets sensible defaults
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
