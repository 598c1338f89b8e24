// Package config loads the coordinator and worker TOML configuration
// files.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of a coordinator process. Worker processes
// take their own, much smaller set of flags (see cmd/worker) since a
// worker's only configuration is which coordinator to dial and what it
// can run.
type Config struct {
	ListenAddress string `toml:"listen_address"`
	AdminAddress  string `toml:"admin_address"`
	AuthToken     string `toml:"auth_token"`

	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int `toml:"heartbeat_timeout_seconds"`
	MaxTaskAttempts          int `toml:"max_task_attempts"`

	RegistrationRateLimitPerSecond float64 `toml:"registration_rate_limit_per_second"`
	RegistrationRateLimitBurst     int     `toml:"registration_rate_limit_burst"`

	JaegerServiceName string `toml:"jaeger_service_name"`
}

// DefaultConfig returns the configuration a coordinator runs with absent a
// config file.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:                   "0.0.0.0:5555",
		AdminAddress:                    "127.0.0.1:8080",
		AuthToken:                       "",
		HeartbeatIntervalSeconds:        5,
		HeartbeatTimeoutSeconds:         20,
		MaxTaskAttempts:                 0,
		RegistrationRateLimitPerSecond:  5,
		RegistrationRateLimitBurst:      10,
		JaegerServiceName:               "taskmesh-coordinator",
	}
}

// HeartbeatInterval returns HeartbeatIntervalSeconds as a time.Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// HeartbeatTimeout returns HeartbeatTimeoutSeconds as a time.Duration,
// i.e. the liveness window SweepDeadWorkers checks against.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

// LoadConfig reads and decodes a TOML configuration file, layering its
// values over DefaultConfig so a file only needs to set what it wants to
// override. An empty configPath returns the defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", configPath, err)
	}
	return cfg, nil
}
