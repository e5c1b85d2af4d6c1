package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EnvConfigPath names the environment variable that overrides the config location
const EnvConfigPath = "NUTRITIONAL_CONFIG"

const (
	defaultStaticDir   = "./static"
	defaultMaxUploadMB = 16
	defaultModelType   = "gemini"
)

// ServerSettings configures the HTTP host
type ServerSettings struct {
	Port        string `json:"port"`
	StaticDir   string `json:"static_dir"`
	Debug       bool   `json:"debug"`
	MaxUploadMB int64  `json:"max_upload_mb"`
}

// MLSettings selects and tunes the model backend
type MLSettings struct {
	Type           string `json:"type"`   // "gemini" or "vertex"
	Config         string `json:"config"` // optional backend config file
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Config is the application configuration file
type Config struct {
	Server ServerSettings `json:"server"`
	ML     MLSettings     `json:"ml"`
}

// LoadConfig reads the JSON file at configPath and fills in defaults
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is not set")
	}
	if c.ML.TimeoutSeconds < 0 {
		return errors.New("ml timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = defaultStaticDir
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = defaultMaxUploadMB
	}
	if c.ML.Type == "" {
		c.ML.Type = defaultModelType
	}
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}

// Timeout returns the per-analysis timeout; zero means the analyzer default
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ML.TimeoutSeconds) * time.Second
}

// GetConfigPath picks the config file: the environment override, then
// config/config.json when a config directory exists, then ./config.json
func GetConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	if info, err := os.Stat("config"); err == nil && info.IsDir() {
		return filepath.Join("config", "config.json")
	}
	return "config.json"
}
