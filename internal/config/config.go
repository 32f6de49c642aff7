// Package config manages modsync client configuration and the .modsync
// directory. It handles loading, saving, and initializing the workspace
// configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	Dir        = ".modsync"
	ConfigFile = "config"

	// TokenEnv overrides the token stored in the config file.
	TokenEnv = "MODSYNC_TOKEN"
)

// Config represents the modsync client configuration
type Config struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token,omitempty"`
	// Course is the default course for commands that take --course.
	Course string `toml:"course,omitempty"`
	// Reconcile selects when mutations refetch: "refetch" or "trust".
	Reconcile string `toml:"reconcile,omitempty"`
	LogLevel  string `toml:"log_level,omitempty"`
	path      string // path to .modsync directory
}

// FindRoot finds the .modsync directory by walking up from start.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, Dir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a modsync workspace (or any parent up to root); run 'modsync init'")
		}
		dir = parent
	}
}

// Load loads the configuration found from the current directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(cwd)
}

// LoadFrom loads the configuration found by walking up from dir. The token
// environment variable takes precedence over the file.
func LoadFrom(dir string) (*Config, error) {
	root, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		cfg.Token = tok
	}

	cfg.path = root
	return &cfg, nil
}

// Save saves the configuration to disk. The file may hold a token, so it is
// readable by the owner only.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0600)
}

// Path returns the path to the .modsync directory
func (c *Config) Path() string {
	return c.path
}

// Initialize creates a new .modsync directory in dir holding cfg.
func Initialize(dir string, cfg Config) (*Config, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server url is required")
	}

	p := filepath.Join(dir, Dir)

	// Check if already initialized
	if _, err := os.Stat(p); err == nil {
		return nil, fmt.Errorf("modsync workspace already exists at %s", p)
	}

	if err := os.MkdirAll(p, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	cfg.path = p
	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(p)
		return nil, err
	}

	return &cfg, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to warn so command
// output stays clean.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}
