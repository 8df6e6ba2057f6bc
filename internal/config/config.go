// Package config reads process settings from the environment, loading a
// .env file first when one is present.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/password"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"

	envDevelopment = "development"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required outside development")

type Config struct {
	AppEnv   string
	HTTPAddr string

	JWTSecret []byte
	// EphemeralSecret is set when a development secret was generated at startup.
	EphemeralSecret bool

	StoreDriver string
	// Migrate applies the embedded schema migrations on startup.
	Migrate bool

	RateLimitBackend string
	RedisURL         string
	RedisPrefix      string
	RateLimitSweep   time.Duration
	TrustProxy       bool

	PasswordHasher  string
	BcryptCost      int
	HashConcurrency int

	DefaultLocale   string
	ShutdownTimeout time.Duration

	// MetricsInterval is how often collected metrics are written to the log.
	MetricsInterval time.Duration

	// PromptServiceURL, when set, mounts POST /api/prompts as a proxy to it.
	PromptServiceURL string
}

// Load reads .env (best effort) and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "production"),
		HTTPAddr:         getEnv("HTTP_ADDR", "0.0.0.0:3001"),
		JWTSecret:        []byte(os.Getenv("JWT_SECRET")),
		StoreDriver:      getEnv("STORE_DRIVER", StoreDriverPostgres),
		Migrate:          getEnvAsBool("DATABASE_MIGRATE", true),
		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", RateLimitMemory),
		RedisURL:         os.Getenv("REDIS_URL"),
		RedisPrefix:      getEnv("REDIS_PREFIX", "ratelimit"),
		RateLimitSweep:   getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
		TrustProxy:       getEnvAsBool("TRUST_PROXY", false),
		PasswordHasher:   getEnv("PASSWORD_HASHER", "bcrypt"),
		BcryptCost:       getEnvAsInt("BCRYPT_COST", password.DefaultBcryptCost),
		HashConcurrency:  getEnvAsInt("HASH_CONCURRENCY", runtime.NumCPU()),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", apierr.LocaleHebrew),
		ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		MetricsInterval:  getEnvAsDuration("METRICS_INTERVAL", time.Minute),
		PromptServiceURL: os.Getenv("PROMPT_SERVICE_URL"),
	}

	if len(cfg.JWTSecret) == 0 && cfg.IsDevelopment() {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate development secret: %w", err)
		}
		cfg.JWTSecret = secret
		cfg.EphemeralSecret = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, envDevelopment)
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if len(c.JWTSecret) == 0 {
		return ErrMissingSecret
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	if _, err := password.New(c.PasswordHasher, c.BcryptCost); err != nil {
		return fmt.Errorf("PASSWORD_HASHER: %w", err)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.HashConcurrency < 1 {
		return fmt.Errorf("HASH_CONCURRENCY must be positive")
	}
	if !apierr.SupportedLocale(c.DefaultLocale) {
		return fmt.Errorf("unsupported DEFAULT_LOCALE %q", c.DefaultLocale)
	}
	if c.RateLimitSweep <= 0 {
		return fmt.Errorf("RATE_LIMIT_SWEEP_INTERVAL must be positive")
	}
	if c.PromptServiceURL != "" {
		u, err := url.Parse(c.PromptServiceURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid PROMPT_SERVICE_URL %q", c.PromptServiceURL)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
