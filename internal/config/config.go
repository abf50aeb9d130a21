// Package config resolves the agent's configuration from command-line
// flags, environment variables, and an optional YAML file. Keys are
// kebab-case; snake_case aliases exist only for the top-level keys listed
// in BindDefaults, not for the capture.* and log.* keys.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Capture holds the capture engine's size and depth limits.
type Capture struct {
	MaxFrames       int
	MaxExpandFrames int
	MaxProperties   int
	MaxDataSize     int
	MaxStringLength int
}

// Log holds the log-point throttling parameters.
type Log struct {
	MaxLogsPerSecond float64
	LogDelaySeconds  int
}

// Config is the fully resolved set of options recognized by the agent.
// It is read once at startup.
type Config struct {
	WorkingDirectory            string
	AppPathRelativeToRepository string
	BreakpointExpiration        time.Duration
	BreakpointUpdateInterval    time.Duration
	Capture                     Capture
	Log                         Log
	LogLevel                    string
	Enabled                     bool
	ForceNewAgent               bool

	ControllerURL string
	Project       string
	Uniquifier    string
	Description   string
	AgentVersion  string

	// LowLevelBackend selects which internal/lowlevel.Debugger
	// implementation the debug-API layer installs breakpoints against.
	LowLevelBackend string
}

const (
	defaultBreakpointExpirationSec     = 24 * 60 * 60
	defaultBreakpointUpdateIntervalSec = 1
	defaultMaxFrames                   = 20
	defaultMaxExpandFrames              = 5
	defaultMaxProperties                = 10
	defaultMaxDataSize                  = 64 * 1024
	defaultMaxStringLength              = 1024
	defaultMaxLogsPerSecond             = 20.0
	defaultLogDelaySeconds              = 1
)

// BindDefaults registers every recognized key and its default with v,
// and registers snake_case aliases for the top-level multi-word keys
// (the capture.* and log.* keys get none).
func BindDefaults(v *viper.Viper) {
	v.SetDefault("working-directory", ".")
	v.SetDefault("app-path-relative-to-repository", "")
	v.SetDefault("breakpoint-expiration-sec", defaultBreakpointExpirationSec)
	v.SetDefault("breakpoint-update-interval-sec", defaultBreakpointUpdateIntervalSec)
	v.SetDefault("capture.max-frames", defaultMaxFrames)
	v.SetDefault("capture.max-expand-frames", defaultMaxExpandFrames)
	v.SetDefault("capture.max-properties", defaultMaxProperties)
	v.SetDefault("capture.max-data-size", defaultMaxDataSize)
	v.SetDefault("capture.max-string-length", defaultMaxStringLength)
	v.SetDefault("log.max-logs-per-second", defaultMaxLogsPerSecond)
	v.SetDefault("log.log-delay-seconds", defaultLogDelaySeconds)
	v.SetDefault("log-level", "info")
	v.SetDefault("enabled", true)
	v.SetDefault("force-new-agent", false)
	v.SetDefault("controller-url", "https://clouddebugger.googleapis.com/v2/controller")
	v.SetDefault("low-level-backend", "gdbmi")

	aliases := map[string]string{
		"working_directory":                  "working-directory",
		"app_path_relative_to_repository":    "app-path-relative-to-repository",
		"breakpoint_expiration_sec":          "breakpoint-expiration-sec",
		"breakpoint_update_interval_sec":     "breakpoint-update-interval-sec",
		"log_level":                          "log-level",
		"force_new_agent":                    "force-new-agent",
		"controller_url":                     "controller-url",
		"low_level_backend":                  "low-level-backend",
	}
	for alias, canonical := range aliases {
		v.RegisterAlias(alias, canonical)
	}
}

// Load resolves a Config from an already-configured Viper instance
// (flags/env/file all bound by the caller).
func Load(v *viper.Viper) *Config {
	return &Config{
		WorkingDirectory:             v.GetString("working-directory"),
		AppPathRelativeToRepository:  v.GetString("app-path-relative-to-repository"),
		BreakpointExpiration:         time.Duration(v.GetInt("breakpoint-expiration-sec")) * time.Second,
		BreakpointUpdateInterval:     time.Duration(v.GetInt("breakpoint-update-interval-sec")) * time.Second,
		Capture: Capture{
			MaxFrames:       v.GetInt("capture.max-frames"),
			MaxExpandFrames: v.GetInt("capture.max-expand-frames"),
			MaxProperties:   v.GetInt("capture.max-properties"),
			MaxDataSize:     v.GetInt("capture.max-data-size"),
			MaxStringLength: v.GetInt("capture.max-string-length"),
		},
		Log: Log{
			MaxLogsPerSecond: v.GetFloat64("log.max-logs-per-second"),
			LogDelaySeconds:  v.GetInt("log.log-delay-seconds"),
		},
		LogLevel:        v.GetString("log-level"),
		Enabled:         v.GetBool("enabled"),
		ForceNewAgent:   v.GetBool("force-new-agent"),
		ControllerURL:   v.GetString("controller-url"),
		Project:         v.GetString("project"),
		Uniquifier:      v.GetString("uniquifier"),
		Description:     v.GetString("description"),
		AgentVersion:    v.GetString("agent-version"),
		LowLevelBackend: v.GetString("low-level-backend"),
	}
}
