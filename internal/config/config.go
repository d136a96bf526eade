package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration, read from ~/.chatcore/config.toml.
// The bearer token is intentionally not a file field: it comes from the
// CHATCORE_TOKEN environment variable (optionally via a .env file) so the
// config file can be committed to dotfiles without leaking credentials.
type Config struct {
	// APIBaseURL is the backend HTTP base, e.g. "https://api.example.com".
	// The socket URL is derived from it (http→ws scheme rewrite + /ws).
	APIBaseURL string `toml:"api_base_url"`

	// ListenAddr is the local HTTP API bind address for UI surfaces.
	ListenAddr string `toml:"listen_addr"`

	// Profile names the local state directory under ~/.chatcore/profiles.
	Profile string `toml:"profile"`
}

// TokenEnv is the environment variable holding the backend bearer token.
const TokenEnv = "CHATCORE_TOKEN"

// Load reads config from path and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.applyDefaults()
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("config %s: api_base_url is required", path)
	}
	return &cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8470"
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
}
