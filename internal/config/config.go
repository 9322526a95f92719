// Package config loads service and solver settings from a YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string        `yaml:"log_level"`
	Server   ServerConfig  `yaml:"server"`
	Store    StoreConfig   `yaml:"store"`
	Redis    RedisConfig   `yaml:"redis"`
	Auth     AuthConfig    `yaml:"auth"`
	Rate     RateConfig    `yaml:"rate"`
	Webhooks WebhookConfig `yaml:"webhooks"`
	Solver   SolverConfig  `yaml:"solver"`
}

// ServerConfig is the HTTP surface. KeepRuns bounds how many finished runs
// stay queryable in memory.
type ServerConfig struct {
	Port         string `yaml:"port"`
	AllowOrigins string `yaml:"allow_origins"`
	KeepRuns     int    `yaml:"keep_runs"`
}

// StoreConfig selects the persistence backend. Kind is memory, file or
// postgres; empty picks postgres when DatabaseURL is set and memory otherwise.
type StoreConfig struct {
	Kind          string `yaml:"kind"`
	Dir           string `yaml:"dir"`
	DatabaseURL   string `yaml:"database_url"`
	Migrate       bool   `yaml:"migrate"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"`
	HMACSecret string `yaml:"hmac_secret"`
}

// RateConfig is the API token bucket. RPS <= 0 disables limiting.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type WebhookConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

type SolverConfig struct {
	Iterations    int           `yaml:"iterations"`
	Workers       int           `yaml:"workers"`
	Seed          int64         `yaml:"seed"`
	PackAttempts  int           `yaml:"pack_attempts"`
	ShakeAttempts int           `yaml:"shake_attempts"`
	TimeBudget    time.Duration `yaml:"time_budget"`
	Moves         []string      `yaml:"moves"`
}

// Default returns the settings used when neither a file nor the environment
// says otherwise.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   ServerConfig{Port: "8080", KeepRuns: 1000},
		Store:    StoreConfig{Dir: ".", Migrate: true, MigrationsDir: "db/migrations"},
		Auth:     AuthConfig{Mode: "dev"},
		Rate:     RateConfig{RPS: 20, Burst: 40},
		Webhooks: WebhookConfig{MaxAttempts: 10, Interval: time.Second},
		Solver:   SolverConfig{Iterations: 1000, PackAttempts: 1000, ShakeAttempts: 1000},
	}
}

// Load reads path over the defaults (an empty path skips the file), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("PORT", &c.Server.Port)
	str("ALLOW_ORIGINS", &c.Server.AllowOrigins)
	str("STORE", &c.Store.Kind)
	str("STORE_DIR", &c.Store.Dir)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("REDIS_URL", &c.Redis.URL)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		c.Store.Migrate = v != "false"
	}

	var errs []error
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_RPS: %w", err))
		}
		c.Rate.RPS = f
	}
	ints := map[string]*int{
		"KEEP_RUNS":            &c.Server.KeepRuns,
		"RATE_BURST":           &c.Rate.Burst,
		"WEBHOOK_MAX_ATTEMPTS": &c.Webhooks.MaxAttempts,
		"SOLVER_ITERATIONS":    &c.Solver.Iterations,
		"SOLVER_WORKERS":       &c.Solver.Workers,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = n
	}
	if v, ok := lookup("SOLVER_TIME_BUDGET"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOLVER_TIME_BUDGET: %w", err))
		}
		c.Solver.TimeBudget = d
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	switch c.Store.Kind {
	case "", "memory", "file", "postgres":
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	if c.Store.Kind == "postgres" && c.Store.DatabaseURL == "" {
		return errors.New("config: postgres store needs database_url")
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return errors.New("config: hmac auth needs hmac_secret")
		}
	default:
		return fmt.Errorf("config: unknown auth mode %q", c.Auth.Mode)
	}
	if c.Solver.Iterations < 0 || c.Solver.Workers < 0 || c.Solver.TimeBudget < 0 {
		return errors.New("config: solver settings must be non-negative")
	}
	return nil
}

// StoreKind resolves an empty Kind.
func (c Config) StoreKind() string {
	if c.Store.Kind != "" {
		return c.Store.Kind
	}
	if c.Store.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

// Summary is the redacted view served by the debug endpoint.
func (c Config) Summary() map[string]any {
	return map[string]any{
		"logLevel":       c.LogLevel,
		"port":           c.Server.Port,
		"store":          c.StoreKind(),
		"authMode":       c.Auth.Mode,
		"rateRps":        c.Rate.RPS,
		"rateBurst":      c.Rate.Burst,
		"webhookRetries": c.Webhooks.MaxAttempts,
		"hasDatabaseUrl": c.Store.DatabaseURL != "",
		"hasRedisUrl":    c.Redis.URL != "",
		"solver":         c.Solver,
	}
}
