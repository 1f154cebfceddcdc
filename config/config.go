/*
Package config loads pointsd settings.

PRECEDENCE (later wins):
  1. DefaultConfig()
  2. YAML file (optional; a missing file is not an error)
  3. .env file (optional; only fills variables not already set)
  4. Environment variables
  5. Command line flags (applied by cmd/server)

ENVIRONMENT:
  PORT               server.port
  STORE_DRIVER       store.driver (sqlite3, sqlite, postgres, memory)
  DB_PATH            store.path
  DATABASE_URL       store.url
  ADMIN_PASSWORD     admin.password
  GEMINI_API_KEY     advice.api_key (API_KEY is also accepted)
  ADVICE_MODEL       advice.model
  LOG_LEVEL          logging.level
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite     = "sqlite3" // mattn/go-sqlite3, needs cgo
	DriverSQLitePure = "sqlite"  // modernc.org/sqlite
	DriverPostgres   = "postgres"
	DriverMemory     = "memory"
)

// Config holds all pointsd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Admin   AdminConfig   `yaml:"admin"`
	Advice  AdviceConfig  `yaml:"advice"`
	Icons   IconConfig    `yaml:"icons"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig selects where collections are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite drivers
	URL    string `yaml:"url"`  // postgres
}

// AdminConfig holds the shared secret for administrator edits. It is a
// confirmation gate, not authentication.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// AdviceConfig configures the optional language model.
type AdviceConfig struct {
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
}

// IconConfig configures uploaded image handling.
type IconConfig struct {
	BudgetBytes int `yaml:"budget_bytes"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "points.db",
		},
		Admin: AdminConfig{
			Password: "123456",
		},
		Advice: AdviceConfig{
			Model:         "gemini-2.5-flash",
			RatePerMinute: 10,
			Burst:         3,
		},
		Icons: IconConfig{
			BudgetBytes: 200 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path, then envFiles (".env" when none are
// given), then the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.URL = v
		if os.Getenv("STORE_DRIVER") == "" {
			c.Store.Driver = DriverPostgres
		}
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
	// GEMINI_API_KEY wins over the generic API_KEY.
	if v := os.Getenv("API_KEY"); v != "" {
		c.Advice.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Advice.APIKey = v
	}
	if v := os.Getenv("ADVICE_MODEL"); v != "" {
		c.Advice.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for values pointsd cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverSQLitePure:
		if c.Store.Path == "" {
			return fmt.Errorf("store driver %s needs a path", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.URL == "" {
			return fmt.Errorf("store driver postgres needs a url (set DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Admin.Password == "" {
		return fmt.Errorf("admin password must not be empty")
	}
	if c.Advice.RatePerMinute <= 0 || c.Advice.Burst <= 0 {
		return fmt.Errorf("advice rate and burst must be positive")
	}
	if c.Icons.BudgetBytes <= 0 {
		return fmt.Errorf("icon budget must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// NewLogger builds a zap logger from the logging settings.
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
