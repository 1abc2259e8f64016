// Package config loads the ticketflow server configuration from YAML with
// environment overrides for secrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfigPath   = "TICKETFLOW_CONFIG"
	EnvStoreDSN     = "TICKETFLOW_STORE_DSN"
	EnvMongoURI     = "TICKETFLOW_MONGO_URI"
	EnvSMTPPassword = "TICKETFLOW_SMTP_PASSWORD"
	EnvHTTPAddr     = "TICKETFLOW_HTTP_ADDR"
)

// Config is the top-level configuration for the ticketflow server.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Queue     QueueConfig     `yaml:"queue"`
	Worker    WorkerConfig    `yaml:"worker"`
	Directory DirectoryConfig `yaml:"directory"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects where runs, step results and history live.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, mysql, redis.
	Driver string `yaml:"driver"`

	// DSN is the driver-specific data source: a file path or URI for
	// sqlite, a connection string for postgres and mysql, an address
	// (host:port) for redis.
	DSN string `yaml:"dsn"`

	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix"`

	// LeaseTTL bounds how long a crashed worker blocks a run.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
}

// QueueConfig selects the task queue. The sqlite queue shares the store's
// database when DSN is empty; the redis queue shares its server.
type QueueConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	LeaseRetry  time.Duration `yaml:"lease_retry"`
}

// DirectoryConfig selects the user and ticket store.
type DirectoryConfig struct {
	// Driver is "memory" or "mongo".
	Driver   string `yaml:"driver"`
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`

	// Users seed the memory directory.
	Users []SeedUser `yaml:"users"`
}

type SeedUser struct {
	ID     string   `yaml:"id"`
	Email  string   `yaml:"email"`
	Role   string   `yaml:"role"`
	Skills []string `yaml:"skills"`
}

// SMTPConfig configures outgoing mail. With no host, mail is logged
// instead of sent.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TelemetryConfig struct {
	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics"`
	// Tracing records OpenTelemetry spans through the global provider.
	Tracing bool `yaml:"tracing"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Store: StoreConfig{
			Driver:   "memory",
			Prefix:   "ticketflow:",
			LeaseTTL: 30 * time.Second,
		},
		Queue: QueueConfig{Driver: "memory"},
		Worker: WorkerConfig{
			Concurrency: 4,
			MaxAttempts: 5,
			Backoff:     500 * time.Millisecond,
			LeaseRetry:  time.Second,
		},
		Directory: DirectoryConfig{Driver: "memory", Database: "ticketflow"},
		SMTP:      SMTPConfig{Port: 587, From: "no-reply@ticketflow.local", Timeout: 10 * time.Second},
		Telemetry: TelemetryConfig{Metrics: true},
	}
}

// Load reads the YAML file at path over Default(). An empty path falls
// back to $TICKETFLOW_CONFIG, and to defaults alone when that is unset
// too. Environment overrides are applied last, then the result is
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode rejects unknown keys so that typos surface at startup.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Store.DSN, EnvStoreDSN)
	override(&c.Directory.URI, EnvMongoURI)
	override(&c.SMTP.Password, EnvSMTPPassword)
	override(&c.HTTP.Addr, EnvHTTPAddr)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := c.Log.Format; f != "text" && f != "json" {
		bad("log.format: unknown format %q (supported: text, json)", f)
	}
	if c.HTTP.Addr == "" {
		bad("http.addr is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "mysql", "redis":
		if c.Store.DSN == "" {
			bad("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		bad("store.driver: unknown driver %q (supported: memory, sqlite, postgres, mysql, redis)", c.Store.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "sqlite":
		if c.Queue.DSN == "" && c.Store.Driver != "sqlite" {
			bad("queue.dsn is required for the sqlite queue unless store.driver is sqlite")
		}
	case "redis":
		if c.Queue.DSN == "" && c.Store.Driver != "redis" {
			bad("queue.dsn is required for the redis queue unless store.driver is redis")
		}
	default:
		bad("queue.driver: unknown driver %q (supported: memory, sqlite, redis)", c.Queue.Driver)
	}
	if c.Worker.Concurrency < 1 {
		bad("worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	switch c.Directory.Driver {
	case "memory":
	case "mongo":
		if c.Directory.URI == "" {
			bad("directory.uri is required for the mongo driver (or set %s)", EnvMongoURI)
		}
	default:
		bad("directory.driver: unknown driver %q (supported: memory, mongo)", c.Directory.Driver)
	}
	for i, u := range c.Directory.Users {
		if u.Email == "" {
			bad("directory.users[%d]: email is required", i)
		}
		switch u.Role {
		case "", "user", "moderator", "admin":
		default:
			bad("directory.users[%d]: unknown role %q", i, u.Role)
		}
	}

	if c.SMTP.Host != "" {
		if c.SMTP.From == "" {
			bad("smtp.from is required when smtp.host is set")
		}
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			bad("smtp.port out of range: %d", c.SMTP.Port)
		}
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
