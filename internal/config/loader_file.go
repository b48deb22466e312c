package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/joho/godotenv"
)

// loadFile applies a key = value config file. A missing file is only an
// error when it was named explicitly.
func loadFile(cfg *Config, path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, ok := lookupSetting(key); !ok {
			cfg.Ignored = append(cfg.Ignored, key)
			continue
		}
		if err := apply(cfg, key, values[key]); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.File = path
	return nil
}
