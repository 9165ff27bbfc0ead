package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file from path, merges it over the
// built-in defaults, and validates the result. An empty path returns the
// built-in defaults unmodified (used by tests and the demo entrypoint).
//
// Steps:
//  1. Read the YAML file (skipped if path == "")
//  2. Parse YAML into a partial Config
//  3. Merge over built-in defaults
//  4. Validate
func Load(path string) (*Config, error) {
	log := slog.With("config_path", path)

	builtin := DefaultConfig()
	if path == "" {
		log.Info("no config path given, using built-in defaults")
		if err := Validate(builtin); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
		}
		return builtin, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	merged, err := mergeOverBuiltin(builtin, &user)
	if err != nil {
		return nil, NewLoadError(path, err)
	}

	if err := Validate(merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration loaded",
		"max_concurrent_calls", merged.Dialer.MaxConcurrentCalls,
		"calls_per_minute", merged.Dialer.CallsPerMinute)
	return merged, nil
}
