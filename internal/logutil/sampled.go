// Package logutil builds the process logger.
package logutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
	"strings"
)

// SampledHandler passes records at or above a minimum level to the wrapped
// handler, keeping only a percentage of those at levels that have a
// sampling rate. Levels without a rate are always kept.
type SampledHandler struct {
	next     slog.Handler
	percents map[slog.Level]float64
	minLevel slog.Level
	roll     func() float64
}

func NewSampledHandler(next slog.Handler, minLevel slog.Level, percents map[slog.Level]float64) *SampledHandler {
	return &SampledHandler{
		next:     next,
		percents: maps.Clone(percents),
		minLevel: minLevel,
		roll:     rand.Float64,
	}
}

func (h *SampledHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel || !h.next.Enabled(ctx, level) {
		return false
	}
	p, ok := h.percents[level]
	if !ok {
		return true
	}
	return h.roll()*100 < p
}

func (h *SampledHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *SampledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	return &c
}

func (h *SampledHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}

// Config selects the output format, level and sampling of the logger.
type Config struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Sampling maps a level name to the percentage of its records kept.
	Sampling map[string]float64 `toml:"sampling"`
}

// ParseLevel accepts debug, info, warn and error, case-insensitively. An
// empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w as configured.
func New(w io.Writer, cfg Config) (*slog.Logger, error) {
	minLevel, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	percents := make(map[slog.Level]float64, len(cfg.Sampling))
	for name, p := range cfg.Sampling {
		lvl, err := ParseLevel(name)
		if err != nil {
			return nil, err
		}
		if p < 0 || p > 100 {
			return nil, fmt.Errorf("sampling for %s must be within 0-100, got %v", name, p)
		}
		percents[lvl] = p
	}

	opts := &slog.HandlerOptions{Level: minLevel}
	var base slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		base = slog.NewTextHandler(w, opts)
	case "json":
		base = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(NewSampledHandler(base, minLevel, percents)), nil
}
