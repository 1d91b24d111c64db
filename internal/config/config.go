// Package config loads cobd's process configuration from a TOML file,
// with environment-variable overrides, following the same
// unknown-field-rejecting TOML decode style as the manifest package
// (itself grounded on the teacher's flag-based configuration in
// cmd/memex-fs/main.go, generalized from flags to a config file since
// cobd has more settings than fit comfortably on a command line).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is cobd's top-level process configuration.
type Config struct {
	DataDir      string `toml:"data_dir"`
	LogLevel     string `toml:"log_level"`
	IdentitySeed string `toml:"identity_seed_hex"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{DataDir: ".", LogLevel: "info"}
}

var allowedFields = map[string]bool{"data_dir": true, "log_level": true, "identity_seed_hex": true}

// ErrUnknownField is returned when the config file carries a field this
// revision does not recognize.
var ErrUnknownField = fmt.Errorf("config: unknown field")

// Load parses path as TOML, rejecting unrecognized keys, then applies
// COBD_-prefixed environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw map[string]toml.Primitive
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for k := range raw {
		if !allowedFields[k] {
			return Config{}, fmt.Errorf("%w: %q in %s", ErrUnknownField, k, path)
		}
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("COBD_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("COBD_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("COBD_IDENTITY_SEED_HEX"); ok {
		cfg.IdentitySeed = v
	}
}
