package config

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Getenv matches os.Getenv.
type Getenv func(string) string

func StringEnv(getenv Getenv, name, fallback string) string {
	if raw := strings.TrimSpace(getenv(name)); raw != "" {
		return raw
	}
	return fallback
}

func IntEnv(getenv Getenv, logger *slog.Logger, name string, fallback int) int {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid environment value, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func DurationEnv(getenv Getenv, logger *slog.Logger, name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid environment value, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}
