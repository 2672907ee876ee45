// Package config loads loader and daemon settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/tani-shi/assetbundle-manager/pkg/bundle"
)

// Prefix is prepended to every variable name read by this package.
const Prefix = "ABM_"

// Settings are the process-level options of the CLI and the daemon.
type Settings struct {
	BaseURL        string `env:"BASE_URL"`
	CacheDir       string `env:"CACHE_DIR"`
	RPCSecret      string `env:"RPC_SECRET"`
	Proxy          string `env:"PROXY"`
	Listen         string `env:"LISTEN" envDefault:"127.0.0.1:3851"`
	KnownHostsPath string `env:"KNOWN_HOSTS"`
	Debug          bool   `env:"DEBUG"`
}

// ParseEnv fills target from ABM_-prefixed environment variables.
// Fields whose variable is unset keep their current value.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig returns bundle.DefaultConfig overridden by the environment.
func LoadConfig() (bundle.Config, error) {
	cfg := bundle.DefaultConfig()
	if err := ParseEnv(&cfg); err != nil {
		return bundle.Config{}, err
	}
	return cfg, nil
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := ParseEnv(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
