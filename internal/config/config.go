// Package config loads relay settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied on top by main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Env selects the log format: "prod" logs JSON at INFO, anything else
	// logs text at DEBUG.
	Env string `yaml:"env"`

	// HTTPAddr is the listen address for the API and WebSocket endpoint.
	HTTPAddr string `yaml:"http_addr"`

	// AllowedOrigins is the CORS and WebSocket origin allowlist. "*" allows
	// any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Transport TransportConfig `yaml:"transport"`
}

type LedgerConfig struct {
	// Path of the sqlite session ledger. Empty disables the ledger.
	Path string `yaml:"path"`

	// Retention is how long closed sessions are kept.
	Retention time.Duration `yaml:"retention"`

	// PruneInterval is how often the retention pass runs.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type TransportConfig struct {
	SendBuffer        int           `yaml:"send_buffer"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	PongWait          time.Duration `yaml:"pong_wait"`
	WriteWait         time.Duration `yaml:"write_wait"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
	UpgradesPerMinute int           `yaml:"upgrades_per_minute"`
}

func Default() Config {
	return Config{
		Env:            "dev",
		HTTPAddr:       ":8080",
		AllowedOrigins: []string{"*"},
		Ledger: LedgerConfig{
			Path:          "./data/relay.db",
			Retention:     30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Transport: TransportConfig{
			SendBuffer:        512,
			MaxMessageSize:    8 * 1024 * 1024,
			PongWait:          60 * time.Second,
			WriteWait:         10 * time.Second,
			MessagesPerSecond: 100,
			MessageBurst:      200,
			UpgradesPerMinute: 60,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	if port := os.Getenv("PORT"); port != "" {
		c.HTTPAddr = ":" + port
	}
	if v, ok := os.LookupEnv("CORS_ALLOW"); ok {
		c.AllowedOrigins = splitCSV(v)
	}

	// RELAY_LEDGER_PATH may be set to "" to disable the ledger.
	if v, ok := os.LookupEnv("RELAY_LEDGER_PATH"); ok {
		c.Ledger.Path = v
	}

	var errs []error
	c.Ledger.Retention = getEnvDuration("RELAY_LEDGER_RETENTION", c.Ledger.Retention, &errs)
	c.Ledger.PruneInterval = getEnvDuration("RELAY_LEDGER_PRUNE_INTERVAL", c.Ledger.PruneInterval, &errs)
	c.Transport.SendBuffer = getEnvInt("RELAY_SEND_BUFFER", c.Transport.SendBuffer, &errs)
	c.Transport.MaxMessageSize = int64(getEnvInt("RELAY_MAX_MESSAGE_SIZE", int(c.Transport.MaxMessageSize), &errs))
	c.Transport.PongWait = getEnvDuration("RELAY_PONG_WAIT", c.Transport.PongWait, &errs)
	c.Transport.MessagesPerSecond = getEnvFloat("RELAY_MESSAGES_PER_SECOND", c.Transport.MessagesPerSecond, &errs)
	c.Transport.MessageBurst = getEnvInt("RELAY_MESSAGE_BURST", c.Transport.MessageBurst, &errs)
	c.Transport.UpgradesPerMinute = getEnvInt("RELAY_UPGRADES_PER_MINUTE", c.Transport.UpgradesPerMinute, &errs)
	return errors.Join(errs...)
}

// Validate rejects settings the relay cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Transport.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send_buffer must be positive, got %d", c.Transport.SendBuffer))
	}
	if c.Transport.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("max_message_size must be positive, got %d", c.Transport.MaxMessageSize))
	}
	if c.Transport.PongWait <= 0 || c.Transport.WriteWait <= 0 {
		errs = append(errs, errors.New("pong_wait and write_wait must be positive"))
	}
	if c.Transport.MessagesPerSecond <= 0 || c.Transport.MessageBurst <= 0 {
		errs = append(errs, errors.New("messages_per_second and message_burst must be positive"))
	}
	if c.Transport.UpgradesPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("upgrades_per_minute must be positive, got %d", c.Transport.UpgradesPerMinute))
	}
	if c.Ledger.Path != "" && (c.Ledger.Retention <= 0 || c.Ledger.PruneInterval <= 0) {
		errs = append(errs, errors.New("ledger retention and prune_interval must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// getEnv returns the env var or a default
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return i
}

func getEnvFloat(k string, def float64, errs *[]error) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func getEnvDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
