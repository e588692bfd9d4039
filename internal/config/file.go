// ABOUTME: YAML config file loading with environment variable expansion
// ABOUTME: File values overlay defaults; env overrides are applied afterwards

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadFile reads a YAML configuration file into cfg. Environment variables in
// the format ${VAR_NAME} are expanded before parsing.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}
