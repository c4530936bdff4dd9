package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the CLI's persistent settings.
// Priority: env vars > settings.json > defaults.
type Config struct {
	IndexPath string `json:"index_path"`
	LogLevel  string `json:"log_level"`
	Workers   int    `json:"workers"`
}

func defaultConfig() Config {
	return Config{
		IndexPath: filepath.Join(latticeDir(), "index.db"),
		LogLevel:  "info",
		Workers:   4,
	}
}

func latticeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lattice"
	}
	return filepath.Join(home, ".lattice")
}

func settingsPath() string {
	return filepath.Join(latticeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LATTICE_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("LATTICE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LATTICE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}

	return cfg
}
