package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader applies configuration sources in order, lowest priority first:
//  1. Default values
//  2. YAML file
//  3. .env file
//  4. Process environment
type Loader struct {
	path    string
	envFile string
	getenv  func(string) (string, bool)
}

// NewLoader creates a loader. Either path may be empty; a missing file is skipped.
func NewLoader(path, envFile string) *Loader {
	return &Loader{path: path, envFile: envFile, getenv: os.LookupEnv}
}

// WithLookup replaces the process environment lookup.
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	l.getenv = fn
	return l
}

// Path returns the YAML file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "defaults")

	if l.path != "" {
		loaded, err := l.loadFile(cfg)
		if err != nil {
			return nil, err
		}
		if loaded {
			cfg.LoadedFrom = append(cfg.LoadedFrom, l.path)
		}
	}

	dotenv := map[string]string{}
	if l.envFile != "" {
		values, err := godotenv.Read(l.envFile)
		switch {
		case err == nil:
			dotenv = values
			cfg.LoadedFrom = append(cfg.LoadedFrom, l.envFile)
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read %s: %w", l.envFile, err)
		}
	}

	// the real environment wins over .env, as godotenv.Load does
	lookup := func(key string) (string, bool) {
		if v, ok := l.getenv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}
	if err := applyEnvironment(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(cfg *Config) (bool, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		return false, fmt.Errorf("failed to parse %s: %w", l.path, err)
	}
	return true, nil
}

type envLookup func(string) (string, bool)

func applyEnvironment(cfg *Config, lookup envLookup) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []string
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}

	if v, ok := lookup("ENVIRONMENT"); ok {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	str("LOG_LEVEL", &cfg.LogLevel)

	str("SUPABASE_URL", &cfg.Supabase.URL)
	str("SUPABASE_ANON_KEY", &cfg.Supabase.AnonKey)
	str("SUPABASE_ACCESS_TOKEN", &cfg.Supabase.AccessToken)
	str("SUPABASE_JWT_SECRET", &cfg.Supabase.JWTSecret)
	str("SUPABASE_SCHEMA", &cfg.Supabase.Schema)
	str("SUPABASE_REALTIME_URL", &cfg.Supabase.RealtimeURL)
	boolean("SUPABASE_VERIFY_REMOTE", &cfg.Supabase.VerifyRemote)

	dur("STORE_OPERATION_TIMEOUT", &cfg.Store.OperationTimeout)
	dur("STORE_REFRESH_INTERVAL", &cfg.Store.RefreshInterval)
	integer("STORE_DEFAULT_LIMIT", &cfg.Store.DefaultLimit)
	boolean("STORE_MATCH_OPTIMISTIC", &cfg.Store.MatchOptimistic)

	dur("FEED_HEARTBEAT", &cfg.Feed.Heartbeat)

	boolean("CIRCUIT_BREAKER_ENABLED", &cfg.CircuitBreaker.Enabled)
	boolean("ENABLE_METRICS", &cfg.Metrics.Enabled)
	boolean("ENABLE_TRACING", &cfg.Tracing.Enabled)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	str("OTEL_SERVICE_NAME", &cfg.Tracing.ServiceName)

	str("INSPECTOR_ADDRESS", &cfg.Inspector.Address)
	if v, ok := lookup("INSPECTOR_ALLOWED_ORIGINS"); ok {
		cfg.Inspector.AllowedOrigins = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
