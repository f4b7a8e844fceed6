// Package application provides the business logic and orchestration of the
// competition engine: configuration, the discipline catalog, competition
// management and scoring.
package application

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

//go:embed disciplines.yaml
var defaultDisciplinesYAML []byte

// Environment variables that override file configuration.
const (
	EnvStoragePath = "CUBECOMP_STORAGE_PATH"
	EnvHTTPAddr    = "CUBECOMP_HTTP_ADDR"
	EnvRedisAddr   = "CUBECOMP_REDIS_ADDR"
	EnvLogLevel    = "CUBECOMP_LOG_LEVEL"
)

// Config is the complete process configuration.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server" validate:"required"`
	// Storage configures the embedded store.
	Storage StorageConfig `yaml:"storage" validate:"required"`
	// Cache configures the optional rendered leaderboard cache.
	Cache CacheConfig `yaml:"cache"`
	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`
	// Disciplines is the discipline table seeded into the store. When empty
	// the built-in table is used.
	Disciplines []DisciplineConfig `yaml:"disciplines" validate:"omitempty,dive"`
}

// ServerConfig configures the HTTP listener and its request limits.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// RateLimit is the sustained requests per second allowed per client.
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	// RateBurst is the burst size of the per-client limiter.
	RateBurst int `yaml:"rate_burst" validate:"min=0"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxUploadBytes caps scramble photo uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" validate:"min=0"`
}

// StorageConfig configures the Badger store.
type StorageConfig struct {
	Path       string `yaml:"path" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	MaxRetries int    `yaml:"max_retries" validate:"min=0,max=50"`
}

// CacheConfig configures Redis. Caching is disabled when Addr is empty.
type CacheConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0"`
	TTL      time.Duration `yaml:"ttl"`
}

// Enabled reports whether a cache address is configured.
func (c CacheConfig) Enabled() bool { return c.Addr != "" }

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,loglevel"`
	Pretty bool   `yaml:"pretty"`
}

// DisciplineConfig declares one discipline of the catalog.
type DisciplineConfig struct {
	Name           string                `yaml:"name" validate:"required,max=100"`
	Code           string                `yaml:"code" validate:"required,disccode"`
	MaxTimeMinutes int                   `yaml:"max_time_minutes" validate:"min=0,max=60"`
	Rule           domain.DisciplineRule `yaml:"rule" validate:"required"`
}

// Discipline converts the declaration to a domain discipline without an id.
func (d DisciplineConfig) Discipline() domain.Discipline {
	return domain.Discipline{
		Name:           d.Name,
		Code:           d.Code,
		Rule:           d.Rule,
		MaxTimeMinutes: d.MaxTimeMinutes,
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			RateLimit:       20,
			RateBurst:       40,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  5 << 20,
		},
		Storage: StorageConfig{Path: "data", MaxRetries: 10},
		Cache:   CacheConfig{TTL: time.Minute},
		Logging: LoggingConfig{Level: "info"},
	}
}

// DefaultDisciplines returns the built-in discipline table.
func DefaultDisciplines() ([]DisciplineConfig, error) {
	var out []DisciplineConfig
	if err := decodeStrict(defaultDisciplinesYAML, &out); err != nil {
		return nil, fmt.Errorf("built-in disciplines: %w", err)
	}
	return out, nil
}

// ConfigLoader reads, validates and completes process configuration.
type ConfigLoader struct {
	validator *validator.Validate
	getenv    func(string) string
}

// NewConfigLoader creates a loader that reads overrides from the process
// environment.
func NewConfigLoader() (*ConfigLoader, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &ConfigLoader{validator: v, getenv: os.Getenv}, nil
}

// LoadFile loads configuration from path. An empty path yields the default
// configuration with environment overrides applied.
func (l *ConfigLoader) LoadFile(path string) (Config, error) {
	if path == "" {
		return l.finish(DefaultConfig())
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, ports.NewConfigError(path, ports.ErrConfigNotFound)
	}
	if err != nil {
		return Config{}, ports.NewConfigError(path, err)
	}
	return l.Load(bytes.NewReader(data))
}

// Load parses YAML from r over the defaults. Unknown fields are rejected.
func (l *ConfigLoader) Load(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decodeStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
		}
	}
	return l.finish(cfg)
}

// finish applies environment overrides, fills the discipline table and
// validates the result.
func (l *ConfigLoader) finish(cfg Config) (Config, error) {
	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if len(cfg.Disciplines) == 0 {
		defaults, err := DefaultDisciplines()
		if err != nil {
			return Config{}, err
		}
		cfg.Disciplines = defaults
	}

	if err := l.validator.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := validateDisciplineTable(cfg.Disciplines); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l *ConfigLoader) applyEnv(cfg *Config) error {
	if v := l.getenv(EnvStoragePath); v != "" {
		cfg.Storage.Path = v
		cfg.Storage.InMemory = false
	}
	if v := l.getenv(EnvHTTPAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := l.getenv(EnvRedisAddr); v != "" {
		cfg.Cache.Addr = v
	}
	if v := l.getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := l.getenv("CUBECOMP_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return ports.NewConfigError("CUBECOMP_RATE_LIMIT", err)
		}
		cfg.Server.RateLimit = rps
	}
	return nil
}

// validateDisciplineTable checks the constraints that span entries.
func validateDisciplineTable(table []DisciplineConfig) error {
	verr := domain.NewValidationError("disciplines")
	verr.Err = domain.ErrInvalidConfiguration

	seen := make(map[string]bool, len(table))
	for _, d := range table {
		if seen[d.Code] {
			verr.AddError(fmt.Sprintf("duplicate discipline code %q", d.Code))
		}
		seen[d.Code] = true

		if !policyAttempts(d.Rule) {
			verr.AddError(fmt.Sprintf("discipline %q: %s requires %d attempts, got %d",
				d.Code, d.Rule.Policy, requiredAttempts(d.Rule.Policy), d.Rule.AttemptCount))
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

func decodeStrict(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML decode failed: %w", err)
	}
	return nil
}
