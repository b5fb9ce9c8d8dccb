// Package config loads the settings of the condfetch binaries from a YAML
// file, overridden by CONDFETCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/always-cache/condfetch/authority"
	"github.com/always-cache/condfetch/cache"
	"github.com/always-cache/condfetch/client"
	"github.com/always-cache/condfetch/retry"
)

const EnvPrefix = "CONDFETCH_"

// Counter backends of the server.
const (
	CounterLocal = "local"
	CounterRedis = "redis"
)

type Config struct {
	Log    Log    `yaml:"log"`
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
	// Resources served by the server. Only read from the file.
	Resources []authority.Resource `yaml:"resources"`
}

type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
	// File receives logs in addition to stdout.
	File string `yaml:"file" env:"FILE"`
}

type Server struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// DataFile holds resource content. Empty keeps content in memory.
	DataFile string `yaml:"dataFile" env:"DATA_FILE"`
	// Counter is the server version backend: local or redis.
	Counter   string `yaml:"counter" env:"COUNTER"`
	RedisAddr string `yaml:"redisAddr" env:"REDIS_ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	Metrics   bool   `yaml:"metrics" env:"METRICS"`
}

type Client struct {
	Origin    string       `yaml:"origin" env:"ORIGIN"`
	Namespace string       `yaml:"namespace" env:"NAMESPACE"`
	Cache     cache.Config `yaml:"cache" envPrefix:"CACHE_"`
	Codec     string       `yaml:"codec" env:"CODEC"`
	// MaxEntryBytes rejects larger stored entries when decoding.
	MaxEntryBytes        int           `yaml:"maxEntryBytes" env:"MAX_ENTRY_BYTES"`
	StaleTime            time.Duration `yaml:"staleTime" env:"STALE_TIME"`
	StaleWhileRevalidate bool          `yaml:"staleWhileRevalidate" env:"STALE_WHILE_REVALIDATE"`
	ServerFreshness      bool          `yaml:"serverFreshness" env:"SERVER_FRESHNESS"`
	Retries              int           `yaml:"retries" env:"RETRIES"`
	RetryInitial         time.Duration `yaml:"retryInitial" env:"RETRY_INITIAL"`
	RetryMax             time.Duration `yaml:"retryMax" env:"RETRY_MAX"`
	// UpdateInterval runs the background updater when positive.
	UpdateInterval time.Duration `yaml:"updateInterval" env:"UPDATE_INTERVAL"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Log: Log{Level: zerolog.DebugLevel.String()},
		Server: Server{
			Addr:    ":8080",
			Counter: CounterLocal,
		},
		Client: Client{
			Origin:               "http://localhost:8080",
			Cache:                cache.Config{Driver: cache.DriverSQLite, Path: "condfetch.db"},
			StaleTime:            client.DefaultStaleTime,
			StaleWhileRevalidate: true,
			Retries:              retry.DefaultRetries,
			RetryInitial:         retry.DefaultInitialDelay,
			RetryMax:             retry.DefaultMaxDelay,
		},
	}
}

// Load reads filename, if given, over the defaults and then applies the
// environment.
func Load(filename string) (Config, error) {
	cfg := Default()
	if filename != "" {
		b, err := os.ReadFile(filename)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	sections := map[string]any{
		"LOG_":    &cfg.Log,
		"SERVER_": &cfg.Server,
		"CLIENT_": &cfg.Client,
	}
	for prefix, section := range sections {
		if err := env.ParseWithOptions(section, env.Options{Prefix: EnvPrefix + prefix}); err != nil {
			return cfg, fmt.Errorf("parse env: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Server.Counter {
	case "", CounterLocal:
	case CounterRedis:
		if c.Server.RedisAddr == "" {
			errs = append(errs, errors.New("server: redis counter needs redisAddr"))
		}
	default:
		errs = append(errs, fmt.Errorf("server: unknown counter %q", c.Server.Counter))
	}
	if c.Client.StaleTime < 0 {
		errs = append(errs, errors.New("client: negative staleTime"))
	}
	if c.Client.Retries < 0 {
		errs = append(errs, errors.New("client: negative retries"))
	}
	return errors.Join(errs...)
}

// LogLevel is the configured level.
func (l Log) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return zerolog.DebugLevel
	}
	return level
}

// Options are the fetch options of the client settings.
func (c Client) Options() client.Options {
	return client.Options{
		StaleTime:            c.StaleTime,
		StaleWhileRevalidate: c.StaleWhileRevalidate,
		ServerFreshness:      c.ServerFreshness,
		Retry: retry.Policy{
			Retries: c.Retries,
			Delay:   retry.Exponential(c.RetryInitial, c.RetryMax),
		},
	}
}

// SetupLogging points the global logger at stdout and, if configured, the
// log file. The returned function closes the log file.
func SetupLogging(l Log, trace bool, version string) (func() error, error) {
	level := l.LogLevel()
	if trace {
		level = zerolog.TraceLevel
	}
	outputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	closeFile := func() error { return nil }
	if l.File != "" {
		f, err := os.OpenFile(l.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err != nil {
			return closeFile, fmt.Errorf("open log file: %w", err)
		}
		outputs = append(outputs, f)
		closeFile = f.Close
	}
	log.Logger = log.Level(level).Output(zerolog.MultiLevelWriter(outputs...)).
		With().Str("version", version).Logger()
	return closeFile, nil
}
