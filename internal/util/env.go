// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"time"
)

// ParseDurationEnv parses a duration environment variable with a default value.
// Invalid or empty values return the default.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("ParseDurationEnv: invalid duration value, using default", "key", key, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}
