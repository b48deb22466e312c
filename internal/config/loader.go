package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Load loads configuration with precedence: defaults → config file →
// environment variables → command line flags. The config file is the
// --config flag, else the first positional argument, else
// DefaultConfigFile when it exists. It performs runtime transformations and
// validation before returning the configuration.
func Load(args []string) (*Config, error) {
	fs := newFlagSet("hoover-consumer")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return load(fs)
}

// Usage returns the flag usage text.
func Usage() string {
	return newFlagSet("hoover-consumer").FlagUsages()
}

func load(fs *pflag.FlagSet) (*Config, error) {
	// Step 1: Start with defaults
	cfg := defaultConfig()

	// Step 2: Apply the config file
	path, explicit := configPath(fs)
	if err := loadFile(cfg, path, explicit); err != nil {
		return nil, err
	}

	// Step 3: Apply environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Step 4: Apply command line flags (highest precedence)
	if err := applyFlags(cfg, fs); err != nil {
		return nil, err
	}

	// Step 5: Apply runtime validations and transformations
	if err := applyRuntimeValidation(cfg); err != nil {
		return nil, err
	}

	// Step 6: Validate the final configuration
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func configPath(fs *pflag.FlagSet) (string, bool) {
	if path, _ := fs.GetString("config"); path != "" {
		return path, true
	}
	if fs.NArg() > 0 {
		return fs.Arg(0), true
	}
	return DefaultConfigFile, false
}
