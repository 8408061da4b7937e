package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 15*time.Second, cfg.API.Timeout())
	assert.Equal(t, 300*time.Millisecond, cfg.API.RetryBackoff())
	assert.Equal(t, 350*time.Millisecond, cfg.Quote.Debounce())
	assert.Equal(t, 2, cfg.API.MaxRetries)
	assert.Equal(t, 99, cfg.Cart.MaxQuantity)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "en", cfg.Locale)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fasket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://localhost:8080/api/v1
  max_retries: 1
locale: ar
cart:
  max_quantity: 20
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 1, cfg.API.MaxRetries)
	assert.Equal(t, 15000, cfg.API.TimeoutMS, "unset keys keep defaults")
	assert.Equal(t, "ar", cfg.Locale)
	assert.Equal(t, 20, cfg.Cart.MaxQuantity)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fasket.yaml")
	require.NoError(t, os.WriteFile(path, []byte("locale: ar\n"), 0o644))

	t.Setenv("FASKET_LOCALE", "en-US")
	t.Setenv("FASKET_QUOTE_DEBOUNCE_MS", "100")
	t.Setenv("FASKET_AUTH_EXEMPT_PREFIXES", "/auth/login, /auth/refresh")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "en-US", cfg.Locale)
	assert.Equal(t, 100, cfg.Quote.DebounceMS)
	assert.Equal(t, []string{"/auth/login", "/auth/refresh"}, cfg.API.AuthExemptPrefixes)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "api.fasket.app" }},
		{"zero timeout", func(c *Config) { c.API.TimeoutMS = 0 }},
		{"too many retries", func(c *Config) { c.API.MaxRetries = 9 }},
		{"exempt prefix without slash", func(c *Config) { c.API.AuthExemptPrefixes = []string{"auth"} }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"zero max quantity", func(c *Config) { c.Cart.MaxQuantity = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
