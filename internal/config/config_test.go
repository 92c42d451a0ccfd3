package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadSucceedsWithRequiredVars(t *testing.T) {
	withEnv(t, map[string]string{
		"NIX_STORE":     "/nix/store",
		"HOME":          "/home/alice",
		"NIX_REPO_HTTP": "https://cache.example.com",
	})
	t.Setenv("NIX_BINARY_CACHE_USERNAME", "")
	t.Setenv("NIX_BINARY_CACHE_PASSWORD", "")
	t.Setenv("NIX_STORE_BIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/nix/store", cfg.NixStore)
	assert.Equal(t, "/home/alice", cfg.Home)
	assert.Equal(t, "https://cache.example.com", cfg.CacheURL)
	assert.False(t, cfg.HasBasicAuth())
	assert.Equal(t, "/home/alice/.nix-path-cache", cfg.RefCacheDir())
}

func TestLoadFailsWhenRequiredVarMissing(t *testing.T) {
	withEnv(t, map[string]string{
		"NIX_STORE":     "/nix/store",
		"HOME":          "/home/alice",
		"NIX_REPO_HTTP": "",
	})
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFailsWhenStoreNotAbsolute(t *testing.T) {
	withEnv(t, map[string]string{
		"NIX_STORE":     "relative/store",
		"HOME":          "/home/alice",
		"NIX_REPO_HTTP": "https://cache.example.com",
	})
	_, err := Load()
	assert.Error(t, err)
}

func TestHasBasicAuthRequiresBoth(t *testing.T) {
	withEnv(t, map[string]string{
		"NIX_STORE":                  "/nix/store",
		"HOME":                       "/home/alice",
		"NIX_REPO_HTTP":              "https://cache.example.com",
		"NIX_BINARY_CACHE_USERNAME":  "alice",
		"NIX_BINARY_CACHE_PASSWORD":  "",
	})
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.HasBasicAuth())
}
