package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "HOOVER_"

// envName returns the environment variable for a configuration key.
func envName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// loadFromEnv overlays HOOVER_* environment variables.
func loadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	for _, s := range settings {
		if _, ok := os.LookupEnv(envName(s.key)); ok {
			cfg.markPresent(s.key)
		}
	}
	cfg.Broker.Servers = splitList(strings.Join(cfg.Broker.Servers, ","))
	return nil
}
