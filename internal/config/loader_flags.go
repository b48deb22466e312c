package config

import (
	"strings"

	"github.com/spf13/pflag"
)

// flagName returns the command line flag for a configuration key.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// newFlagSet declares one flag per configuration key plus --config and
// --verbose.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Config file (default "+DefaultConfigFile+")")
	fs.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	for _, s := range settings {
		switch s.kind {
		case kindBool:
			fs.Bool(flagName(s.key), false, s.usage)
		default:
			fs.String(flagName(s.key), "", s.usage)
		}
	}
	fs.SortFlags = false
	return fs
}

// applyFlags applies every flag that was set on the command line.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		switch f.Name {
		case "config":
			return
		case "verbose":
			cfg.Verbosity, _ = fs.GetCount("verbose")
			return
		}
		firstErr = apply(cfg, strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})
	return firstErr
}
