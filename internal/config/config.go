// Package config provides functionality for managing configuration options
// for the client using command-line flags, a JSON config file and
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Durable backends.
const (
	DurableFile     = "file"
	DurableSQLite   = "sqlite"
	DurablePostgres = "postgres"
)

// Volatile backends.
const (
	VolatileMemory = "memory"
	VolatileRedis  = "redis"
)

// Options holds the configuration values for the client.
type Options struct {
	// BaseURL is the API root, including the /api prefix.
	BaseURL string `json:"base_url" env:"BASE_URL"`

	// Timeout bounds every HTTP request.
	Timeout time.Duration `json:"-" env:"TIMEOUT"`

	// CAFile, when set, replaces the system roots with this PEM bundle.
	CAFile string `json:"ca_file" env:"CA_FILE"`

	// Durable selects the backend of the durable token tier.
	Durable string `json:"durable" env:"DURABLE"`

	// DurablePath is the file path (file, sqlite) or DSN (postgres).
	DurablePath string `json:"durable_path" env:"DURABLE_PATH"`

	// Volatile selects the backend of the volatile token tier.
	Volatile string `json:"volatile" env:"VOLATILE"`

	// RedisAddr is used when Volatile is "redis".
	RedisAddr string `json:"redis_addr" env:"REDIS_ADDR"`

	// VolatileTTL is how long a volatile record lives in redis.
	VolatileTTL time.Duration `json:"-" env:"VOLATILE_TTL"`

	// SealKey, when set, seals durable records with AES-GCM.
	SealKey string `json:"-" env:"SEAL_KEY"`

	// RefreshInterval enables periodic catalog refresh when positive.
	RefreshInterval time.Duration `json:"-" env:"REFRESH_INTERVAL"`

	// LogLevel is passed to logger.Init.
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// Config is the path to the config file.
	Config string `json:"-" env:"CONFIG"`

	// ShowVersion prints build information and exits.
	ShowVersion bool `json:"-"`
}

// EnvPrefix prefixes every environment variable read by Parse.
const EnvPrefix = "CARPOOL_"

// Parse reads flags from args, then the JSON config file, then environment
// variables; later sources win.
func Parse(args []string) (*Options, error) {
	options := &Options{}

	fs := flag.NewFlagSet("carpool", flag.ContinueOnError)
	fs.StringVar(&options.BaseURL, "url", "http://localhost:8000/api", "API base URL")
	fs.DurationVar(&options.Timeout, "timeout", 10*time.Second, "HTTP request timeout")
	fs.StringVar(&options.CAFile, "ca", "", "path to CA cert")
	fs.StringVar(&options.Durable, "durable", DurableFile, "durable tier backend: file | sqlite | postgres")
	fs.StringVar(&options.DurablePath, "durable-path", "carpool.json", "durable tier file path or DSN")
	fs.StringVar(&options.Volatile, "volatile", VolatileMemory, "volatile tier backend: memory | redis")
	fs.StringVar(&options.RedisAddr, "redis", "localhost:6379", "redis address for the volatile tier")
	fs.DurationVar(&options.VolatileTTL, "volatile-ttl", 12*time.Hour, "lifetime of volatile records")
	fs.DurationVar(&options.RefreshInterval, "refresh", 0, "catalog refresh interval (0 disables)")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&options.Config, "config", "", "path to config file")
	fs.StringVar(&options.Config, "c", "", "path to config file (shorthand)")
	fs.BoolVar(&options.ShowVersion, "version", false, "show build version and date")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := os.Getenv(EnvPrefix + "CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		data, err := os.ReadFile(options.Config)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := options.applyFile(data); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(options, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

// fileDurations carries the duration fields of the config file as strings
// such as "30s".
type fileDurations struct {
	Timeout         string `json:"timeout"`
	VolatileTTL     string `json:"volatile_ttl"`
	RefreshInterval string `json:"refresh_interval"`
}

func (o *Options) applyFile(data []byte) error {
	if err := json.Unmarshal(data, o); err != nil {
		return err
	}
	var d fileDurations
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{d.Timeout, &o.Timeout},
		{d.VolatileTTL, &o.VolatileTTL},
		{d.RefreshInterval, &o.RefreshInterval},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

// Validate checks backend names and required values.
func (o *Options) Validate() error {
	if o.BaseURL == "" {
		return errors.New("base url is required")
	}
	switch o.Durable {
	case DurableFile, DurableSQLite, DurablePostgres:
	default:
		return fmt.Errorf("unknown durable backend %q", o.Durable)
	}
	if o.DurablePath == "" {
		return errors.New("durable path is required")
	}
	switch o.Volatile {
	case VolatileMemory, VolatileRedis:
	default:
		return fmt.Errorf("unknown volatile backend %q", o.Volatile)
	}
	if o.RefreshInterval < 0 {
		return errors.New("refresh interval must not be negative")
	}
	return nil
}
