// Package config loads and validates the muni-map configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the BFS communes API.
const DefaultBaseURL = "https://www.agvchapp.bfs.admin.ch/api/communes"

// Config holds the full configuration.
type Config struct {
	// Threshold is the minimum name-match confidence. It is never inferred.
	Threshold        float64  `yaml:"threshold" validate:"gt=0,lte=1"`
	AliasPath        string   `yaml:"alias_path"`
	MaxRetries       int      `yaml:"max_retries" validate:"gte=0,lte=20"`
	CacheTTL         string   `yaml:"cache_ttl"`
	DBPath           string   `yaml:"db_path"`
	FetchConcurrency int      `yaml:"fetch_concurrency" validate:"gte=1,lte=64"`
	StartDate        string   `yaml:"start_date"`
	Provider         Provider `yaml:"provider"`
	Matching         Matching `yaml:"matching"`
}

// Provider configures the remote snapshot registry.
type Provider struct {
	BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	Timeout       time.Duration `yaml:"timeout"`
	Offline       bool          `yaml:"offline"`
}

// Matching holds name-matching rules recovered from curated lists.
type Matching struct {
	ForeignCodes      []string `yaml:"foreign_codes"`
	ForeignIndicators []string `yaml:"foreign_indicators"`
	FalsePositives    []string `yaml:"false_positives"`
}

// DefaultConfig returns sane defaults. The cache is permanent unless
// cache_ttl is set.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Threshold:        0.85,
		MaxRetries:       3,
		DBPath:           filepath.Join(home, ".muni-map", "cache.db"),
		FetchConcurrency: 8,
		StartDate:        "1981-01-01",
		Provider: Provider{
			BaseURL:       DefaultBaseURL,
			RatePerSecond: 5,
			Timeout:       60 * time.Second,
		},
	}
}

// Load reads a YAML config file and merges it over DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

var validate = validator.New()

// Validate checks ranges and the TTL syntax.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.TTL(); err != nil {
		return fmt.Errorf("invalid cache_ttl: %w", err)
	}
	if c.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.StartDate); err != nil {
			return fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
		}
	}
	return nil
}

// TTL returns the cache time-to-live; zero means permanent.
func (c *Config) TTL() (time.Duration, error) {
	if c.CacheTTL == "" {
		return 0, nil
	}
	return ParseTTL(c.CacheTTL)
}
