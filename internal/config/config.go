// Package config loads the storefront client configuration.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. an optional YAML file
//  3. a .env file in the working directory (if present)
//  4. FASKET_* environment variables
//
// The merged result is validated against the embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSrc string

// Config is the full client configuration. JSON tags drive CUE validation.
type Config struct {
	API     APIConfig     `yaml:"api" json:"api"`
	Locale  string        `yaml:"locale" json:"locale"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Cart    CartConfig    `yaml:"cart" json:"cart"`
	Quote   QuoteConfig   `yaml:"quote" json:"quote"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

type APIConfig struct {
	BaseURL            string   `yaml:"base_url" json:"base_url"`
	TimeoutMS          int      `yaml:"timeout_ms" json:"timeout_ms"`
	MaxRetries         int      `yaml:"max_retries" json:"max_retries"`
	RetryBackoffMS     int      `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	AuthExemptPrefixes []string `yaml:"auth_exempt_prefixes" json:"auth_exempt_prefixes"`
}

type StorageConfig struct {
	Path string `yaml:"path" json:"path"`
}

type CartConfig struct {
	MaxQuantity int `yaml:"max_quantity" json:"max_quantity"`
}

type QuoteConfig struct {
	DebounceMS int `yaml:"debounce_ms" json:"debounce_ms"`
}

type LogConfig struct {
	Env   string `yaml:"env" json:"env"`
	Level string `yaml:"level" json:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "https://api.fasket.app/api/v1",
			TimeoutMS:      15000,
			MaxRetries:     2,
			RetryBackoffMS: 300,
			AuthExemptPrefixes: []string{
				"/auth/login",
				"/auth/register",
				"/auth/refresh",
				"/auth/otp",
				"/auth/password",
			},
		},
		Locale:  "en",
		Storage: StorageConfig{Path: "fasket.db"},
		Cart:    CartConfig{MaxQuantity: 99},
		Quote:   QuoteConfig{DebounceMS: 350},
		Log:     LogConfig{Env: "development", Level: "warn"},
	}
}

// Timeout is the per-attempt HTTP timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RetryBackoff is the linear backoff step between transient retries.
func (c APIConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// Debounce is the quote trigger debounce window.
func (c QuoteConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips the file layer, a missing named file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	overlayEnv(&cfg)

	if cfg.API.AuthExemptPrefixes == nil {
		cfg.API.AuthExemptPrefixes = []string{}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against the CUE schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(cfg))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func overlayEnv(cfg *Config) {
	cfg.API.BaseURL = getEnv("FASKET_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.TimeoutMS = getEnvAsInt("FASKET_API_TIMEOUT_MS", cfg.API.TimeoutMS)
	cfg.API.MaxRetries = getEnvAsInt("FASKET_API_MAX_RETRIES", cfg.API.MaxRetries)
	cfg.API.RetryBackoffMS = getEnvAsInt("FASKET_API_RETRY_BACKOFF_MS", cfg.API.RetryBackoffMS)
	if v, ok := os.LookupEnv("FASKET_AUTH_EXEMPT_PREFIXES"); ok {
		cfg.API.AuthExemptPrefixes = splitAndTrim(v)
	}
	cfg.Locale = getEnv("FASKET_LOCALE", cfg.Locale)
	cfg.Storage.Path = getEnv("FASKET_DB_PATH", cfg.Storage.Path)
	cfg.Cart.MaxQuantity = getEnvAsInt("FASKET_CART_MAX_QUANTITY", cfg.Cart.MaxQuantity)
	cfg.Quote.DebounceMS = getEnvAsInt("FASKET_QUOTE_DEBOUNCE_MS", cfg.Quote.DebounceMS)
	cfg.Log.Env = getEnv("FASKET_LOG_ENV", cfg.Log.Env)
	cfg.Log.Level = getEnv("FASKET_LOG_LEVEL", cfg.Log.Level)
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if val := strings.TrimSpace(p); val != "" {
			out = append(out, val)
		}
	}
	return out
}
