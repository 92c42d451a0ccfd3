// Package config loads the cache push client's configuration from the
// environment (spec.md §6). Configuration loading from environment is an
// out-of-scope external collaborator per spec.md §1; this package is the
// thin, explicit boundary around it, shaped like the load/validate flow
// in the wvc example's internal/config package (adapted from a TOML file
// to environment variables, since that is this system's actual
// configuration source).
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds everything read from the environment at startup.
type Config struct {
	NixStore string // NIX_STORE: absolute path, root of the local store
	Home     string // HOME: holds the on-disk cache at $HOME/.nix-path-cache
	CacheURL string // NIX_REPO_HTTP: base URL of the remote cache

	BasicAuthUser string // NIX_BINARY_CACHE_USERNAME, optional
	BasicAuthPass string // NIX_BINARY_CACHE_PASSWORD, optional

	StoreBin string // NIX_STORE_BIN, optional, default "nix-store"
}

// Load reads and validates the environment. Required variables that are
// unset, or that must be absolute paths but aren't, fail fast with the
// variable name attached.
func Load() (*Config, error) {
	nixStore, err := requireAbs("NIX_STORE")
	if err != nil {
		return nil, err
	}
	home, err := requireAbs("HOME")
	if err != nil {
		return nil, err
	}
	cacheURL, err := requireEnv("NIX_REPO_HTTP")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		NixStore:      nixStore,
		Home:          home,
		CacheURL:      cacheURL,
		BasicAuthUser: os.Getenv("NIX_BINARY_CACHE_USERNAME"),
		BasicAuthPass: os.Getenv("NIX_BINARY_CACHE_PASSWORD"),
		StoreBin:      os.Getenv("NIX_STORE_BIN"),
	}
	return cfg, nil
}

func requireEnv(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("missing required environment variable %s", name)
	}
	return v, nil
}

func requireAbs(name string) (string, error) {
	v, err := requireEnv(name)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(v) {
		return "", fmt.Errorf("environment variable %s must be an absolute path, got %q", name, v)
	}
	return v, nil
}

// RefCacheDir returns the on-disk reference cache directory for this
// configuration's HOME.
func (c *Config) RefCacheDir() string {
	return filepath.Join(c.Home, ".nix-path-cache")
}

// HasBasicAuth reports whether both basic-auth environment variables were
// present, per spec.md §4.H's authentication rule.
func (c *Config) HasBasicAuth() bool {
	return c.BasicAuthUser != "" && c.BasicAuthPass != ""
}
