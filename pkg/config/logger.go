package config

import (
	"fmt"
	"os"
)

// LoggerConfig configures logging behavior.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format)
//  2. Environment variables (LOG_LEVEL)
//  3. Config file (logger section)
//  4. Defaults (info level, simple format, stderr)
type LoggerConfig struct {
	// Level specifies the log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// File specifies the log file path. Empty means stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Format specifies the log format: "simple" (level + message) or
	// "verbose" (time + level + message + source).
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// SetDefaults applies default values to LoggerConfig.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = os.Getenv("LOG_LEVEL")
	}
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Validate checks the logger configuration.
func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "", "simple", "verbose":
	default:
		return fmt.Errorf("invalid log format %q (valid: simple, verbose)", c.Format)
	}
	return nil
}
