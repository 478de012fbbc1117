// Package config reads the flock settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/flock/limiter"
	"github.com/joho/godotenv"
)

const (
	EnvMaxSubAgents          = "FLOCK_MAX_SUBAGENTS"
	EnvMaxIterations         = "FLOCK_MAX_ITERATIONS"
	EnvTeammateMaxIterations = "FLOCK_TEAMMATE_MAX_ITERATIONS"
	EnvFlushInterval         = "FLOCK_FLUSH_INTERVAL"
	EnvLogLevel              = "FLOCK_LOG_LEVEL"
	EnvNATSURL               = "NATS_URL"
	EnvTemporalAddress       = "TEMPORAL_ADDRESS"
)

// Config holds the process wide settings. Empty addresses mean the in-process
// implementation is used.
type Config struct {
	MaxSubAgents          int
	MaxIterations         int
	TeammateMaxIterations int
	FlushInterval         time.Duration
	LogLevel              slog.Level
	NATSURL               string
	TemporalAddress       string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		MaxSubAgents:          limiter.DefaultCapacity,
		MaxIterations:         100,
		TeammateMaxIterations: 50,
		FlushInterval:         250 * time.Millisecond,
		LogLevel:              slog.LevelWarn,
	}
}

// Load reads the given .env files into the environment, without overriding variables that
// are already set, and then calls FromEnv.
func Load(files ...string) (Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("failed to load env files: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv reads the settings from the environment. Every invalid value is reported.
func FromEnv() (Config, error) {
	cfg := Default()
	var errs error
	positive := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			errs = errors.Join(errs, fmt.Errorf("%s must be a positive integer, got %q", key, v))
			return
		}
		*dst = n
	}
	positive(EnvMaxSubAgents, &cfg.MaxSubAgents)
	positive(EnvMaxIterations, &cfg.MaxIterations)
	positive(EnvTeammateMaxIterations, &cfg.TeammateMaxIterations)

	if v := strings.TrimSpace(os.Getenv(EnvFlushInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = errors.Join(errs, fmt.Errorf("%s must be a positive duration, got %q", EnvFlushInterval, v))
		} else {
			cfg.FlushInterval = d
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", EnvLogLevel, err))
		}
	}
	cfg.NATSURL = strings.TrimSpace(os.Getenv(EnvNATSURL))
	cfg.TemporalAddress = strings.TrimSpace(os.Getenv(EnvTemporalAddress))

	if errs != nil {
		return Config{}, errs
	}
	return cfg, nil
}
