// Package config loads the kvbulk TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ankur-anand/kvbulk/internal/logutil"
	"github.com/ankur-anand/kvbulk/pkg/bulk"
	"github.com/ankur-anand/kvbulk/pkg/connpool"
	"github.com/ankur-anand/kvbulk/pkg/dataset"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/time/rate"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config : top-level configuration.
type Config struct {
	Store  kvstore.Config `toml:"store"`
	Pool   PoolConfig     `toml:"pool"`
	Bulk   BulkConfig     `toml:"bulk"`
	Server ServerConfig   `toml:"server"`
	Log    logutil.Config `toml:"log"`
}

type PoolConfig struct {
	IdleTimeout  string `toml:"idle_timeout"`
	DialAttempts int    `toml:"dial_attempts"`
	DialBackoff  string `toml:"dial_backoff"`
}

// BulkConfig tunes the bulk client and the partition engine.
type BulkConfig struct {
	BatchSize     int    `toml:"batch_size"`
	AutoFlush     bool   `toml:"auto_flush"`
	GetBatchSize  int    `toml:"get_batch_size"`
	Parallelism   int    `toml:"parallelism"`
	MaxAttempts   int    `toml:"max_attempts"`
	RetryInterval string `toml:"retry_interval"`
}

type ServerConfig struct {
	ListenIP    string  `toml:"listen_ip"`
	HTTPPort    int     `toml:"http_port"`
	PprofEnable bool    `toml:"pprof_enable"`
	Limiter     Limiter `toml:"limiter"`
	// Tables are created on startup when missing.
	Tables []string `toml:"tables"`
}

// Limiter bounds the request rate the store server accepts. A zero
// Interval disables limiting.
type Limiter struct {
	Interval string `toml:"interval"`
	Burst    int    `toml:"burst"`
}

// Default returns the configuration used when no file is given: an
// in-memory store served on port 4000.
func Default() Config {
	return Config{
		Store: kvstore.Config{Backend: kvstore.BackendMemory, Path: "kvbulk"},
		Pool:  PoolConfig{IdleTimeout: "5m", DialAttempts: 3, DialBackoff: "100ms"},
		Bulk: BulkConfig{
			BatchSize:    bulk.DefaultBatchSize,
			GetBatchSize: bulk.DefaultGetBatchSize,
			Parallelism:  4,
			MaxAttempts:  1,
		},
		Server: ServerConfig{ListenIP: "127.0.0.1", HTTPPort: 4000},
		Log:    logutil.Config{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. Unknown keys are rejected so a typo
// does not silently fall back to a default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strict.String())
		}
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("%w: store: %w", ErrInvalidConfig, err)
	}
	if _, err := c.PoolOptions(); err != nil {
		return err
	}
	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	if c.Bulk.BatchSize < 0 || c.Bulk.GetBatchSize < 0 {
		return fmt.Errorf("%w: bulk: batch sizes must not be negative", ErrInvalidConfig)
	}
	if _, err := BuildLimiter(c.Server.Limiter); err != nil {
		return err
	}
	if _, err := logutil.New(io.Discard, c.Log); err != nil {
		return fmt.Errorf("%w: log: %w", ErrInvalidConfig, err)
	}
	return nil
}

// PoolOptions returns the connection pool options. Logger and scope are left
// for the caller.
func (c Config) PoolOptions() (connpool.Options, error) {
	idle, err := parseDuration("pool.idle_timeout", c.Pool.IdleTimeout)
	if err != nil {
		return connpool.Options{}, err
	}
	backoff, err := parseDuration("pool.dial_backoff", c.Pool.DialBackoff)
	if err != nil {
		return connpool.Options{}, err
	}
	return connpool.Options{
		IdleTimeout:  idle,
		DialAttempts: c.Pool.DialAttempts,
		DialBackoff:  backoff,
	}, nil
}

// EngineOptions returns the partition engine options.
func (c Config) EngineOptions() ([]dataset.Option, error) {
	interval, err := parseDuration("bulk.retry_interval", c.Bulk.RetryInterval)
	if err != nil {
		return nil, err
	}
	opts := []dataset.Option{
		dataset.WithParallelism(c.Bulk.Parallelism),
		dataset.WithMaxAttempts(c.Bulk.MaxAttempts),
	}
	if interval > 0 {
		opts = append(opts, dataset.WithRetryInterval(interval))
	}
	return opts, nil
}

// BulkOptions returns the bulk client options.
func (c Config) BulkOptions() bulk.Options {
	return bulk.Options{
		BatchSize:    c.Bulk.BatchSize,
		AutoFlush:    c.Bulk.AutoFlush,
		GetBatchSize: c.Bulk.GetBatchSize,
	}
}

// ListenAddr returns the host:port the server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.ListenIP, c.Server.HTTPPort)
}

// BuildLimiter returns nil when no interval is configured.
func BuildLimiter(cfg Limiter) (*rate.Limiter, error) {
	if cfg.Interval == "" {
		return nil, nil
	}
	interval, err := parseDuration("server.limiter.interval", cfg.Interval)
	if err != nil {
		return nil, err
	}
	burst := 3
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}
	return rate.NewLimiter(rate.Every(interval), burst), nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
	}
	return d, nil
}
