// Package config loads the sync client configuration from defaults, a YAML file, .env and
// the environment, and hot reloads the YAML file in development.
package config

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/utils"
)

// Environment represents the deployment environment
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config holds all application configuration
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`
	LogLevel    string      `yaml:"log_level" validate:"required,oneof=debug info warn error"`

	Supabase       Supabase       `yaml:"supabase"`
	Store          Store          `yaml:"store"`
	Feed           Feed           `yaml:"feed"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`
	Metrics        Metrics        `yaml:"metrics"`
	Tracing        Tracing        `yaml:"tracing"`
	Inspector      Inspector      `yaml:"inspector"`

	// LoadedFrom lists the sources applied, lowest priority first
	LoadedFrom []string `yaml:"-"`
}

// Supabase holds the project connection settings.
type Supabase struct {
	URL         string `yaml:"url" validate:"omitempty,url"`
	AnonKey     string `yaml:"anon_key"`
	AccessToken string `yaml:"access_token"`
	JWTSecret   string `yaml:"jwt_secret"`
	Schema      string `yaml:"schema" validate:"required"`
	// RealtimeURL defaults to URL with /realtime/v1
	RealtimeURL  string `yaml:"realtime_url" validate:"omitempty,url"`
	VerifyRemote bool   `yaml:"verify_remote"`
}

// Store holds list store settings.
type Store struct {
	// OperationTimeout bounds every fetch and mutation; 0 leaves them open
	OperationTimeout time.Duration `yaml:"operation_timeout" validate:"gte=0"`
	// RefreshInterval is the minimum spacing of coarse refreshes
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
	DefaultLimit    int           `yaml:"default_limit" validate:"gte=0"`
	LookupCacheTTL  time.Duration `yaml:"lookup_cache_ttl" validate:"gte=0"`
	MatchOptimistic bool          `yaml:"match_optimistic"`
	MatchWindow     time.Duration `yaml:"match_window" validate:"gte=0"`
}

// Feed holds realtime connection settings.
type Feed struct {
	Heartbeat    time.Duration `yaml:"heartbeat" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ReadLimit    int64         `yaml:"read_limit" validate:"gte=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" validate:"gte=0"`
}

// CircuitBreaker configures the breaker around the remote client.
type CircuitBreaker struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests"`
}

// Metrics configures prometheus collection.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
}

// Tracing configures the OTLP exporter.
type Tracing struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name" validate:"required_if=Enabled true"`
	Endpoint    string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

// Inspector configures the local HTTP API.
type Inspector struct {
	Address        string        `yaml:"address" validate:"required"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		LogLevel:    "info",
		Supabase: Supabase{
			Schema: "public",
		},
		Store: Store{
			RefreshInterval: 500 * time.Millisecond,
			DefaultLimit:    50,
			LookupCacheTTL:  5 * time.Minute,
			MatchWindow:     30 * time.Second,
		},
		Feed: Feed{
			Heartbeat:    25 * time.Second,
			WriteTimeout: 10 * time.Second,
			ReadLimit:    1024 * 1024,
			DialTimeout:  10 * time.Second,
		},
		CircuitBreaker: CircuitBreaker{
			Enabled:          true,
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "kabsulit",
		},
		Tracing: Tracing{
			ServiceName: "kabsulit-sync",
			SampleRatio: 1,
		},
		Inspector: Inspector{
			Address:        "127.0.0.1:8787",
			AllowedOrigins: []string{"http://localhost:*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
	}
}

// Validate checks struct rules and the production requirements.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() {
		if c.Supabase.URL == "" {
			return fmt.Errorf("supabase url is required in production")
		}
		if c.Supabase.AnonKey == "" {
			return fmt.Errorf("supabase anon key is required in production")
		}
	}
	return nil
}

// RealtimeEndpoint returns the realtime URL, derived from the project URL when unset.
func (c *Config) RealtimeEndpoint() string {
	if c.Supabase.RealtimeURL != "" {
		return c.Supabase.RealtimeURL
	}
	if c.Supabase.URL == "" {
		return ""
	}
	return trimSlash(c.Supabase.URL) + "/realtime/v1"
}

// Level parses LogLevel; unknown values fall back to info.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
