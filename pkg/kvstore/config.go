package kvstore

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Backend names accepted in Config.Backend.
const (
	BackendBolt   = "bolt"
	BackendLMDB   = "lmdb"
	BackendBadger = "badger"
	BackendHTTP   = "http"
	BackendMemory = "mem"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultMapSize     = 1 << 30
	defaultMaxTables   = 128
)

// Config identifies a store and how to reach it. It is broadcast once per
// job and compared by Fingerprint, so two equal configs share pooled
// connections.
type Config struct {
	Backend string `toml:"backend"`
	// Path is the data directory or file for embedded backends and the
	// instance name for the mem backend.
	Path string `toml:"path"`
	// Address is the base URL of a store server for the http backend.
	Address string `toml:"address"`
	NoSync  bool   `toml:"no_sync"`
	// MapSize is the lmdb map size, e.g. "1GB".
	MapSize   string `toml:"map_size"`
	MaxTables int    `toml:"max_tables"`
	// DialTimeout bounds connection establishment, e.g. "5s".
	DialTimeout string `toml:"dial_timeout"`
	// RequestTimeout bounds each remote call. Empty means no limit beyond
	// the caller's context.
	RequestTimeout    string  `toml:"request_timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Validate checks that the config names a known backend and carries the
// location that backend needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendBolt, BackendLMDB, BackendBadger, BackendMemory:
		if c.Path == "" {
			return fmt.Errorf("%w: backend %q requires path", ErrInvalidArgument, c.Backend)
		}
	case BackendHTTP:
		if c.Address == "" {
			return fmt.Errorf("%w: backend %q requires address", ErrInvalidArgument, c.Backend)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if _, err := c.ParseDialTimeout(); err != nil {
		return err
	}
	if _, err := c.ParseRequestTimeout(); err != nil {
		return err
	}
	if _, err := c.ParseMapSize(); err != nil {
		return err
	}
	return nil
}

// ParseDialTimeout returns the configured dial timeout or the default.
func (c Config) ParseDialTimeout() (time.Duration, error) {
	if c.DialTimeout == "" {
		return defaultDialTimeout, nil
	}
	d, err := time.ParseDuration(c.DialTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid dial timeout: %w", err)
	}
	return d, nil
}

// ParseRequestTimeout returns the per-request timeout, zero when unset.
func (c Config) ParseRequestTimeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative request timeout %q", ErrInvalidArgument, c.RequestTimeout)
	}
	return d, nil
}

// ParseMapSize returns the configured map size in bytes or the default.
func (c Config) ParseMapSize() (int64, error) {
	if c.MapSize == "" {
		return defaultMapSize, nil
	}
	n, err := humanize.ParseBytes(c.MapSize)
	if err != nil {
		return 0, fmt.Errorf("invalid map size: %w", err)
	}
	return int64(n), nil
}

// TableLimit returns the maximum number of tables an embedded backend
// should prepare for.
func (c Config) TableLimit() int {
	if c.MaxTables <= 0 {
		return defaultMaxTables
	}
	return c.MaxTables
}

// Fingerprint is a stable digest of every field, used as the pool key.
// Each field is length-prefixed so no two distinct configs share an encoding.
func (c Config) Fingerprint() string {
	fields := []string{
		c.Backend,
		c.Path,
		c.Address,
		strconv.FormatBool(c.NoSync),
		c.MapSize,
		strconv.Itoa(c.MaxTables),
		c.DialTimeout,
		c.RequestTimeout,
		strconv.FormatFloat(c.RequestsPerSecond, 'g', -1, 64),
		strconv.Itoa(c.Burst),
	}

	h := sha256.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, f := range fields {
		n := binary.PutUvarint(lenBuf[:], uint64(len(f)))
		h.Write(lenBuf[:n])
		h.Write([]byte(f))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// String renders the config for logs.
func (c Config) String() string {
	if c.Backend == BackendHTTP {
		return c.Backend + "://" + strings.TrimPrefix(strings.TrimPrefix(c.Address, "http://"), "https://")
	}
	return c.Backend + "://" + c.Path
}
