// Package config provides application-wide configuration. Values come from
// defaults, overlaid by an optional YAML file (PREFLIGHT_CONFIG), overlaid by
// environment variables. All fields have safe defaults so the binary runs
// locally without any setup (provider API keys excepted).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the coaching service.
type Config struct {
	// HTTP
	Addr string `yaml:"addr"` // PREFLIGHT_ADDR — default ":8080"

	// Storage
	DatabasePath string `yaml:"database_path"` // PREFLIGHT_DB_PATH — default "preflight.sqlite"

	// LLM providers
	OpenAIAPIKey     string `yaml:"openai_api_key"`     // OPENAI_API_KEY
	OpenAIBaseURL    string `yaml:"openai_base_url"`    // OPENAI_BASE_URL — default: SDK default
	OpenAIModel      string `yaml:"openai_model"`       // OPENAI_MODEL — default "gpt-4-turbo"
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`  // ANTHROPIC_API_KEY
	AnthropicBaseURL string `yaml:"anthropic_base_url"` // ANTHROPIC_BASE_URL — default: public API
	AnthropicModel   string `yaml:"anthropic_model"`    // ANTHROPIC_MODEL — default "claude-3-5-sonnet-20241022"

	// Coaching
	MaxRounds int `yaml:"max_rounds"` // COACHING_MAX_ROUNDS — default 4

	// LLM call behavior
	TimeoutSeconds   int `yaml:"timeout_seconds"`    // LLM_TIMEOUT_SECONDS — default 45
	RetryMaxAttempts int `yaml:"retry_max_attempts"` // LLM_RETRY_MAX_ATTEMPTS — default 3

	// Auth
	AuthMode  string `yaml:"auth_mode"`  // AUTH_MODE — "stub" or "token", default "stub"
	JWTSecret string `yaml:"jwt_secret"` // JWT_SECRET — required when AuthMode is "token"

	// Rate limiting (per user, requests per minute)
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"` // RATE_LIMIT_PER_MINUTE — default 30
}

const (
	envKeyConfigFile = "PREFLIGHT_CONFIG"

	envKeyAddr             = "PREFLIGHT_ADDR"
	envKeyDatabasePath     = "PREFLIGHT_DB_PATH"
	envKeyOpenAIAPIKey     = "OPENAI_API_KEY"
	envKeyOpenAIBaseURL    = "OPENAI_BASE_URL"
	envKeyOpenAIModel      = "OPENAI_MODEL"
	envKeyAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	envKeyAnthropicBaseURL = "ANTHROPIC_BASE_URL"
	envKeyAnthropicModel   = "ANTHROPIC_MODEL"
	envKeyMaxRounds        = "COACHING_MAX_ROUNDS"
	envKeyTimeoutSeconds   = "LLM_TIMEOUT_SECONDS"
	envKeyRetryMaxAttempts = "LLM_RETRY_MAX_ATTEMPTS"
	envKeyAuthMode         = "AUTH_MODE"
	envKeyJWTSecret        = "JWT_SECRET"
	envKeyRateLimit        = "RATE_LIMIT_PER_MINUTE"
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:               ":8080",
		DatabasePath:       "preflight.sqlite",
		OpenAIModel:        "gpt-4-turbo",
		AnthropicModel:     "claude-3-5-sonnet-20241022",
		MaxRounds:          4,
		TimeoutSeconds:     45,
		RetryMaxAttempts:   3,
		AuthMode:           "stub",
		RateLimitPerMinute: 30,
	}
}

// Load builds the effective configuration: defaults, then the YAML file named
// by PREFLIGHT_CONFIG (if set), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv(envKeyConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.Addr = envOr(envKeyAddr, cfg.Addr)
	cfg.DatabasePath = envOr(envKeyDatabasePath, cfg.DatabasePath)
	cfg.OpenAIAPIKey = envOr(envKeyOpenAIAPIKey, cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = envOr(envKeyOpenAIBaseURL, cfg.OpenAIBaseURL)
	cfg.OpenAIModel = envOr(envKeyOpenAIModel, cfg.OpenAIModel)
	cfg.AnthropicAPIKey = envOr(envKeyAnthropicAPIKey, cfg.AnthropicAPIKey)
	cfg.AnthropicBaseURL = envOr(envKeyAnthropicBaseURL, cfg.AnthropicBaseURL)
	cfg.AnthropicModel = envOr(envKeyAnthropicModel, cfg.AnthropicModel)
	cfg.MaxRounds = envIntOr(envKeyMaxRounds, cfg.MaxRounds)
	cfg.TimeoutSeconds = envIntOr(envKeyTimeoutSeconds, cfg.TimeoutSeconds)
	cfg.RetryMaxAttempts = envIntOr(envKeyRetryMaxAttempts, cfg.RetryMaxAttempts)
	cfg.AuthMode = envOr(envKeyAuthMode, cfg.AuthMode)
	cfg.JWTSecret = envOr(envKeyJWTSecret, cfg.JWTSecret)
	cfg.RateLimitPerMinute = envIntOr(envKeyRateLimit, cfg.RateLimitPerMinute)

	if cfg.AuthMode == "token" && cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: %s is required when %s=token", envKeyJWTSecret, envKeyAuthMode)
	}

	return cfg, nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envIntOr parses an integer environment variable; non-numeric or unset
// values fall back.
func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
