// Package config loads terminal configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/pos-offline/internal/retry"
)

// Config captures configuration values for the offline sync daemon.
type Config struct {
	HTTPPort      int    `yaml:"http_port"`
	SQLiteDSN     string `yaml:"sqlite_dsn"`
	RemoteBaseURL string `yaml:"remote_base_url"`

	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`

	RetryMaxAttempts int             `yaml:"retry_max_attempts"`
	RetryDelays      []time.Duration `yaml:"retry_delays"`

	CredentialCacheTTL time.Duration `yaml:"credential_cache_ttl"`
	CredentialMaxStale time.Duration `yaml:"credential_max_stale"`

	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RetryPolicy converts the configured schedule into a retry.Policy. An empty
// schedule yields the default policy.
func (c Config) RetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if len(c.RetryDelays) > 0 {
		policy.Delays = c.RetryDelays
	}
	if c.RetryMaxAttempts > 0 {
		policy.MaxAttempts = c.RetryMaxAttempts
	}
	return policy
}

// Load reads the YAML file at path when path is non-empty, then applies
// environment overrides. Defaults back every optional field.
//
// Missing required values and unparseable overrides are accumulated and
// reported together so a broken deployment surfaces every problem at once.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPPort:           7345,
		SQLiteDSN:          "file:pos-offline.db?_foreign_keys=on",
		ProbeInterval:      30 * time.Second,
		ProbeTimeout:       5 * time.Second,
		RetryMaxAttempts:   5,
		CredentialCacheTTL: 30 * 24 * time.Hour,
		CredentialMaxStale: 0,
		Retention:          30 * 24 * time.Hour,
		SweepInterval:      time.Hour,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := strings.TrimSpace(os.Getenv("POS_HTTP_PORT")); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 {
			invalid = append(invalid, "POS_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("POS_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if base := strings.TrimSpace(os.Getenv("POS_REMOTE_BASE_URL")); base != "" {
		cfg.RemoteBaseURL = base
	}

	overrideDuration(&cfg.ProbeInterval, "POS_PROBE_INTERVAL", &invalid)
	overrideDuration(&cfg.ProbeTimeout, "POS_PROBE_TIMEOUT", &invalid)
	overrideDuration(&cfg.CredentialCacheTTL, "POS_CREDENTIAL_CACHE_TTL", &invalid)
	overrideDuration(&cfg.Retention, "POS_RETENTION", &invalid)
	overrideDuration(&cfg.SweepInterval, "POS_SWEEP_INTERVAL", &invalid)

	if staleValue := strings.TrimSpace(os.Getenv("POS_CREDENTIAL_MAX_STALE")); staleValue != "" {
		stale, err := time.ParseDuration(staleValue)
		if err != nil || stale < 0 {
			invalid = append(invalid, "POS_CREDENTIAL_MAX_STALE")
		} else {
			cfg.CredentialMaxStale = stale
		}
	}

	if attemptsValue := strings.TrimSpace(os.Getenv("POS_RETRY_MAX_ATTEMPTS")); attemptsValue != "" {
		attempts, err := strconv.Atoi(attemptsValue)
		if err != nil || attempts <= 0 {
			invalid = append(invalid, "POS_RETRY_MAX_ATTEMPTS")
		} else {
			cfg.RetryMaxAttempts = attempts
		}
	}

	if strings.TrimSpace(cfg.RemoteBaseURL) == "" {
		missing = append(missing, "POS_REMOTE_BASE_URL")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration is not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func overrideDuration(field *time.Duration, key string, invalid *[]string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		*invalid = append(*invalid, key)
		return
	}
	*field = d
}
