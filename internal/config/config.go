package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxQueueDepth int    `json:"max_queue_depth"`
	HTTP          struct {
		Listen         string `json:"listen"`
		AllowedOrigins string `json:"allowed_origins"`
	} `json:"http"`
	Capture struct {
		Quality        string `json:"quality"`
		AutoOpen       bool   `json:"auto_open"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"capture"`
}

// Quality maps the configured capture quality preset to a JPEG
// compression level. Unknown values fall back to medium.
func (c *Config) Quality() int {
	switch c.Capture.Quality {
	case "low":
		return 25
	case "high":
		return 70
	default:
		return 40
	}
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".webjourney"),
		LogLevel:      "info",
		MaxQueueDepth: 256,
	}
	cfg.HTTP.Listen = "127.0.0.1:8787"
	cfg.HTTP.AllowedOrigins = "*"
	cfg.Capture.Quality = "medium"
	cfg.Capture.AutoOpen = true
	cfg.Capture.TimeoutSeconds = 5
	return cfg
}

func Load(path string) (*Config, error) {
	// .env is a development convenience; deployed daemons get real env vars.
	godotenv.Load()

	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if dir := os.Getenv("WEBJOURNEY_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if listen := os.Getenv("WEBJOURNEY_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if origins := os.Getenv("WEBJOURNEY_ALLOWED_ORIGINS"); origins != "" {
		cfg.HTTP.AllowedOrigins = origins
	}

	return cfg, nil
}

// Save persists the config atomically. Used both by the CLI and by the
// SAVE_CONFIG command.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func writeDefaults(path string, cfg *Config) error {
	return Save(path, cfg)
}
