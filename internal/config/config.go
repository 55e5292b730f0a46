package config

import "time"

// Config holds runtime settings for the SquadUp client core.
//
// Fields:
//   - ServerBaseURL: base URL of the backend HTTP API.
//   - DatabasePath: path of the local sqlite database file.
//   - RequestTimeout: per-call HTTP timeout.
//   - MaxAttempts: total dispatch attempts per request (including the first).
//   - BaseDelay / MaxDelay: exponential backoff bounds between attempts.
//   - RetryAfterDefault: wait applied to a throttled response without a
//     Retry-After header.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - DeadLetterAfter: drain cycles after which a failing queued mutation is
//     parked; 0 disables parking.
type Config struct {
	ServerBaseURL       string
	DatabasePath        string
	RequestTimeout      time.Duration
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	RetryAfterDefault   time.Duration
	OnlineCheckInterval time.Duration
	DeadLetterAfter     int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "squadup.db"
	c.RequestTimeout = 30 * time.Second
	c.MaxAttempts = 3
	c.BaseDelay = 500 * time.Millisecond
	c.MaxDelay = 30 * time.Second
	c.RetryAfterDefault = 5 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.DeadLetterAfter = 0
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
