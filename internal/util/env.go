package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookupEnv returns the trimmed value of key and whether it is non-empty.
func lookupEnv(key string) (string, bool) {
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

// ParseBoolEnv reads key as a boolean. true/1/yes/on and false/0/no/off are
// accepted in any case; anything else yields def.
func ParseBoolEnv(key string, def bool) bool {
	val, ok := lookupEnv(key)
	if !ok {
		return def
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("util.ParseBoolEnv: ignoring invalid value", "key", key, "value", val, "default", def)
	return def
}

// ParseIntEnv reads key as a positive integer.
func ParseIntEnv(key string, def int) int {
	val, ok := lookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		slog.Warn("util.ParseIntEnv: ignoring invalid value", "key", key, "value", val, "default", def)
		return def
	}
	return n
}

// ParseDurationEnv reads key as a positive time.Duration such as "20m".
func ParseDurationEnv(key string, def time.Duration) time.Duration {
	val, ok := lookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("util.ParseDurationEnv: ignoring invalid value", "key", key, "value", val, "default", def)
		return def
	}
	return d
}
