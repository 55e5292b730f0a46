package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/squadup/mobilecore/internal/flagx"
	"github.com/squadup/mobilecore/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerBaseURL       string         `json:"server_base_url"`
	DatabasePath        string         `json:"database_path"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	MaxAttempts         int            `json:"max_attempts"`
	BaseDelay           timex.Duration `json:"base_delay"`
	MaxDelay            timex.Duration `json:"max_delay"`
	RetryAfterDefault   timex.Duration `json:"retry_after_default"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	DeadLetterAfter     int            `json:"dead_letter_after"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies set fields into the provided Config; zero values keep the
//     defaults already present.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerBaseURL != "" {
		cfg.ServerBaseURL = jc.ServerBaseURL
	}
	if jc.DatabasePath != "" {
		cfg.DatabasePath = jc.DatabasePath
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.MaxAttempts != 0 {
		cfg.MaxAttempts = jc.MaxAttempts
	}
	if jc.BaseDelay.Duration != 0 {
		cfg.BaseDelay = time.Duration(jc.BaseDelay.Duration)
	}
	if jc.MaxDelay.Duration != 0 {
		cfg.MaxDelay = time.Duration(jc.MaxDelay.Duration)
	}
	if jc.RetryAfterDefault.Duration != 0 {
		cfg.RetryAfterDefault = time.Duration(jc.RetryAfterDefault.Duration)
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.DeadLetterAfter != 0 {
		cfg.DeadLetterAfter = jc.DeadLetterAfter
	}
}
