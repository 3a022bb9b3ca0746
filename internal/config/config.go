// Package config loads the store configuration and opens the selected backend.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/eigerco/toboggan/pkg/log"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendPebble Backend = "pebble"
	BackendBolt   Backend = "bolt"
	BackendBadger Backend = "badger"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Backend    Backend `yaml:"backend"`
	Path       string  `yaml:"path"`
	SyncWrites bool    `yaml:"sync_writes"`
	LogLevel   string  `yaml:"log_level"`
	LogFormat  string  `yaml:"log_format"`
	Metrics    bool    `yaml:"metrics"`
}

func Default() Config {
	return Config{
		Backend:   BackendPebble,
		Path:      "./data",
		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads a YAML file on top of Default. Unknown fields are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPebble, BackendBolt, BackendBadger:
		if c.Path == "" {
			return fmt.Errorf("%w: backend %s needs a path", ErrInvalidConfig, c.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	if _, err := log.ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	if _, err := log.ParseLoggerType(c.LogFormat); err != nil {
		return fmt.Errorf("%w: log_format: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LogOptions converts the logging settings for log.Init.
func (c Config) LogOptions() (log.Options, error) {
	level, err := log.ParseLogLevel(c.LogLevel)
	if err != nil {
		return log.Options{}, err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	typ, err := log.ParseLoggerType(c.LogFormat)
	if err != nil {
		return log.Options{}, err
	}
	return log.Options{LogLevel: level, Type: typ}, nil
}
