package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// BaseConfig provides common configuration functionality
type BaseConfig struct {
	ConfigPath string `json:"-"`
}

// LoadConfig loads configuration from a file, falling back to environment variables.
// An explicit path that cannot be read or parsed is an error; a missing
// default file is not.
func (c *BaseConfig) LoadConfig(configPath string, envPrefix string, config interface{}) error {
	// Try to load from file first
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read %s config file: %w", envPrefix, err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse %s config file: %w", envPrefix, err)
		}
		slog.Debug("loaded model configuration", "path", configPath)
		return nil
	}

	// Try default config file in config directory
	defaultPath := filepath.Join("config", fmt.Sprintf("%s.json", envPrefix))
	data, err := os.ReadFile(defaultPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse %s: %w", defaultPath, err)
		}
		slog.Debug("loaded model configuration", "path", defaultPath)
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("failed to read %s: %w", defaultPath, err)
	}

	// Fall back to environment variables
	slog.Debug("using environment variables for model configuration", "backend", envPrefix)
	return nil
}

// firstEnv returns the first non-empty environment variable among keys
func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}
