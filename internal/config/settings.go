// Package config holds runtime settings, configuration fingerprinting
// and the parsed launch-option cache.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Settings is the process-wide configuration. Every field can be
// overridden through a BROWSERFARM_* environment variable; .env loading
// happens in main before Load is called.
type Settings struct {
	ListenAddr string
	Image      string
	StateDir   string

	MaxInstances int
	PoolCapacity int

	IdleTimeout    time.Duration
	TabIdleTimeout time.Duration
	ReapInterval   time.Duration

	LaunchTimeout time.Duration
	LaunchRetries int
	LaunchBackoff time.Duration

	MaxReuseAge time.Duration
	MaxReuseOps int

	MetricsHistory int

	RequestsPerHour int
	RequestBurst    int
}

// Load reads settings from the environment, applying defaults
func Load() (*Settings, error) {
	s := &Settings{
		ListenAddr:      envString("BROWSERFARM_LISTEN_ADDR", ":8080"),
		Image:           envString("BROWSERFARM_IMAGE", "browserless/chrome:latest"),
		StateDir:        envString("BROWSERFARM_STATE_DIR", DefaultStateDir()),
		MaxInstances:    envInt("BROWSERFARM_MAX_INSTANCES", 10),
		PoolCapacity:    envInt("BROWSERFARM_POOL_CAPACITY", 3),
		IdleTimeout:     envDuration("BROWSERFARM_IDLE_TIMEOUT", 30*time.Minute),
		TabIdleTimeout:  envDuration("BROWSERFARM_TAB_IDLE_TIMEOUT", 30*time.Minute),
		ReapInterval:    envDuration("BROWSERFARM_REAP_INTERVAL", 5*time.Minute),
		LaunchTimeout:   envDuration("BROWSERFARM_LAUNCH_TIMEOUT", 30*time.Second),
		LaunchRetries:   envInt("BROWSERFARM_LAUNCH_RETRIES", 3),
		LaunchBackoff:   envDuration("BROWSERFARM_LAUNCH_BACKOFF", 2*time.Second),
		MaxReuseAge:     envDuration("BROWSERFARM_MAX_REUSE_AGE", 30*time.Minute),
		MaxReuseOps:     envInt("BROWSERFARM_MAX_REUSE_OPS", 500),
		MetricsHistory:  envInt("BROWSERFARM_METRICS_HISTORY", 100),
		RequestsPerHour: envInt("BROWSERFARM_REQUESTS_PER_HOUR", 1000),
		RequestBurst:    envInt("BROWSERFARM_REQUEST_BURST", 20),
	}

	if s.MaxInstances < 1 {
		return nil, fmt.Errorf("BROWSERFARM_MAX_INSTANCES must be at least 1")
	}
	if s.PoolCapacity < 0 {
		return nil, fmt.Errorf("BROWSERFARM_POOL_CAPACITY must not be negative")
	}
	if s.ReapInterval < time.Second {
		return nil, fmt.Errorf("BROWSERFARM_REAP_INTERVAL must be at least 1s")
	}
	if s.LaunchRetries < 1 {
		return nil, fmt.Errorf("BROWSERFARM_LAUNCH_RETRIES must be at least 1")
	}

	return s, nil
}

// DefaultStateDir returns the session state directory used when
// BROWSERFARM_STATE_DIR is not set.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./storage/sessions"
	}
	return filepath.Join(home, ".local", "share", "browserfarm", "sessions")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
