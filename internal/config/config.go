// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	DBURL    string `mapstructure:"DB_URL"`

	// GithubBaseURL overrides the GitHub API endpoint, for GitHub Enterprise
	// or test servers. Empty means api.github.com.
	GithubBaseURL string `mapstructure:"GITHUB_BASE_URL"`
	// GithubRequestsPerSecond bounds outbound GitHub calls per user token.
	GithubRequestsPerSecond int `mapstructure:"GITHUB_REQUESTS_PER_SECOND"`
	// FetchConcurrency bounds parallel per-repository fetches in one sync.
	FetchConcurrency int `mapstructure:"FETCH_CONCURRENCY"`

	// RedisURL enables the shared request counter; empty falls back to the
	// in-process counter.
	RedisURL        string        `mapstructure:"REDIS_URL"`
	RateLimitMax    int64         `mapstructure:"RATE_LIMIT_MAX"`
	RateLimitWindow time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("GITHUB_REQUESTS_PER_SECOND", 10)
	viper.SetDefault("FETCH_CONCURRENCY", 5)
	viper.SetDefault("RATE_LIMIT_MAX", 100)
	viper.SetDefault("RATE_LIMIT_WINDOW", "1m")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.GithubRequestsPerSecond <= 0 {
		return nil, errors.New("GITHUB_REQUESTS_PER_SECOND must be positive")
	}
	if cfg.FetchConcurrency <= 0 {
		return nil, errors.New("FETCH_CONCURRENCY must be positive")
	}
	if cfg.RateLimitMax <= 0 || cfg.RateLimitWindow <= 0 {
		return nil, errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}

	return &cfg, nil
}
