// Package config loads gateway settings from an optional YAML file with
// environment-variable overrides (a .env file is honored when present).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all gateway settings.
type Config struct {
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	DBPath string `yaml:"db_path"`

	// MasterSecret derives the key that seals upstream provider keys at rest.
	// Required; there is no safe default.
	MasterSecret string `yaml:"master_secret"`

	// RedisURL switches the response cache to the shared redis backend when
	// set. Empty means the in-process cache.
	RedisURL string `yaml:"redis_url"`

	UpstreamTimeoutSeconds int `yaml:"upstream_timeout_seconds"`
	PriceRefreshMinutes    int `yaml:"price_refresh_minutes"`

	Verbose bool `yaml:"verbose"`
}

// Load reads the config file at path (ignored if missing), then applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	cfg := &Config{
		Host:                   "127.0.0.1",
		Port:                   "8080",
		DBPath:                 "gateway.db",
		UpstreamTimeoutSeconds: 120,
		PriceRefreshMinutes:    15,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("master secret is required (set GATEWAY_MASTER_SECRET or master_secret)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Host, "HOST")
	setStr(&cfg.Port, "PORT")
	setStr(&cfg.DBPath, "GATEWAY_DB_PATH")
	setStr(&cfg.MasterSecret, "GATEWAY_MASTER_SECRET")
	setStr(&cfg.RedisURL, "GATEWAY_REDIS_URL")

	if v := os.Getenv("GATEWAY_UPSTREAM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UpstreamTimeoutSeconds = n
		}
	}
	if v := os.Getenv("GATEWAY_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
