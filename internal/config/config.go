// Package config loads ShopBot settings from the process environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const dbFileName = "shopbot.db"

// Config holds all runtime configuration for the API server.
type Config struct {
	// LLM
	AnthropicAPIKey  string
	AnthropicBaseURL string
	DefaultAIModel   string
	AIMaxTokens      int
	AITemperature    float64
	AITimeout        time.Duration

	// Stripe
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string // optional; the webhook answers 503 while unset
	StripePriceIDBasic   string
	CheckoutSuccessURL   string
	CheckoutCancelURL    string
	TrialDays            int
	GraceDays            int

	// Storage
	DataDir string

	// Auth
	SecretKey                string
	JWTAlgorithm             string
	AccessTokenExpireMinutes int
	AdminKey                 string

	// Server
	Environment        string
	Debug              bool
	CORSOrigins        string
	RateLimitPerMinute int
	BindAddress        string
	Port               int
	LogLevel           string
	LogFormat          string
}

// DatabasePath returns the SQLite file location inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, dbFileName)
}

// CORSOriginsList splits CORSOrigins on commas, dropping blanks.
func (c *Config) CORSOriginsList() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// AccessTokenTTL is the lifetime of issued JWTs.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	cfg := &Config{
		AnthropicAPIKey:      strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		AnthropicBaseURL:     envOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1/messages"),
		DefaultAIModel:       envOrDefault("DEFAULT_AI_MODEL", "claude-sonnet-4-20250514"),
		StripeSecretKey:      strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripePublishableKey: strings.TrimSpace(os.Getenv("STRIPE_PUBLISHABLE_KEY")),
		StripeWebhookSecret:  strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceIDBasic:   strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID_BASIC")),
		CheckoutSuccessURL:   envOrDefault("CHECKOUT_SUCCESS_URL", "https://shopifybotai.netlify.app/success.html"),
		CheckoutCancelURL:    envOrDefault("CHECKOUT_CANCEL_URL", "https://shopifybotai.netlify.app/index.html"),
		DataDir:              envOrDefault("DATA_DIR", "./data"),
		SecretKey:            strings.TrimSpace(os.Getenv("SECRET_KEY")),
		JWTAlgorithm:         strings.ToUpper(envOrDefault("JWT_ALGORITHM", "HS256")),
		AdminKey:             strings.TrimSpace(os.Getenv("ADMIN_KEY")),
		Environment:          envOrDefault("ENVIRONMENT", "development"),
		CORSOrigins:          envOrDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		BindAddress:          envOrDefault("BIND_ADDRESS", "0.0.0.0"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "auto"),
	}

	var err error
	if cfg.AIMaxTokens, err = envOrDefaultInt("AI_MAX_TOKENS", 1000); err != nil {
		return nil, err
	}
	if cfg.AITemperature, err = envOrDefaultFloat("AI_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	if cfg.AITimeout, err = envOrDefaultDuration("AI_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.TrialDays, err = envOrDefaultInt("TRIAL_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.GraceDays, err = envOrDefaultInt("GRACE_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.AccessTokenExpireMinutes, err = envOrDefaultInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24*7); err != nil {
		return nil, err
	}
	if cfg.Debug, err = envOrDefaultBool("DEBUG", true); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = envOrDefaultInt("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.Port, err = envOrDefaultInt("PORT", 8000); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DataDirFromEnv returns DATA_DIR without validating the rest of the
// configuration. Offline CLI commands only need the database.
func DataDirFromEnv() string {
	_ = godotenv.Load()
	return envOrDefault("DATA_DIR", "./data")
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"ANTHROPIC_API_KEY", c.AnthropicAPIKey},
		{"STRIPE_SECRET_KEY", c.StripeSecretKey},
		{"STRIPE_PUBLISHABLE_KEY", c.StripePublishableKey},
		{"STRIPE_PRICE_ID_BASIC", c.StripePriceIDBasic},
		{"SECRET_KEY", c.SecretKey},
		{"ADMIN_KEY", c.AdminKey},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.AITemperature < 0 || c.AITemperature > 1 {
		return fmt.Errorf("AI_TEMPERATURE must be between 0 and 1, got %g", c.AITemperature)
	}
	if c.AIMaxTokens <= 0 {
		return fmt.Errorf("AI_MAX_TOKENS must be greater than 0, got %d", c.AIMaxTokens)
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be greater than 0, got %s", c.AITimeout)
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("TRIAL_DAYS must not be negative, got %d", c.TrialDays)
	}
	if c.GraceDays <= 0 {
		return fmt.Errorf("GRACE_DAYS must be greater than 0, got %d", c.GraceDays)
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be greater than 0, got %d", c.AccessTokenExpireMinutes)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be greater than 0, got %d", c.RateLimitPerMinute)
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM must be one of HS256, HS384, HS512, got %q", c.JWTAlgorithm)
	}

	for name, raw := range map[string]string{
		"ANTHROPIC_BASE_URL":   c.AnthropicBaseURL,
		"CHECKOUT_SUCCESS_URL": c.CheckoutSuccessURL,
		"CHECKOUT_CANCEL_URL":  c.CheckoutCancelURL,
	} {
		if err := validateHTTPURL(name, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultFloat(key string, fallback float64) (float64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
		}
		return f, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

// envOrDefaultDuration accepts Go durations ("90s") or a bare number of seconds.
func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return d, nil
}
