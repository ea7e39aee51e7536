// Package umetrics holds the process-wide tally scope that every kvbulk
// component reports into. Until Initialize is called all metrics go to a
// no-op scope.
package umetrics

import (
	"io"
	"sync"
	"time"

	"github.com/uber-go/tally/v4"
)

type Scope = tally.Scope

var (
	mu     sync.RWMutex
	root   tally.Scope = tally.NoopScope
	closer io.Closer
)

// Options for configuring the metrics registry.
type Options struct {
	Prefix         string
	Reporter       tally.CachedStatsReporter
	ReportInterval time.Duration
	CommonTags     map[string]string
	InitTime       time.Time
	// Separator defaults to "_", which is what the Prometheus reporter expects.
	Separator string
}

// Initialize installs a reporting root scope. A second call while a
// reporter is installed is a no-op and returns a nil closer.
func Initialize(opts Options) (io.Closer, error) {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		return nil, nil
	}

	if opts.InitTime.IsZero() {
		opts.InitTime = time.Now().UTC()
	}
	if opts.CommonTags == nil {
		opts.CommonTags = make(map[string]string)
	}
	if opts.Separator == "" {
		opts.Separator = "_"
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = time.Second
	}

	scope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         opts.Prefix,
		Tags:           opts.CommonTags,
		CachedReporter: opts.Reporter,
		Separator:      opts.Separator,
	}, opts.ReportInterval)

	scope.Gauge("process_start_time_seconds").Update(float64(opts.InitTime.Unix()))
	root = scope
	closer = closeFunc(func() error {
		mu.Lock()
		root = tally.NoopScope
		closer = nil
		mu.Unlock()
		return scopeCloser.Close()
	})
	return closer, nil
}

// Use replaces the root scope, typically with a tally.TestScope in tests.
// It returns a function restoring the previous scope.
func Use(scope tally.Scope) (restore func()) {
	mu.Lock()
	prev := root
	root = scope
	mu.Unlock()
	return func() {
		mu.Lock()
		root = prev
		mu.Unlock()
	}
}

// GetScope returns a scoped metrics collector for a component.
//
//nolint:ireturn
func GetScope(component string) tally.Scope {
	mu.RLock()
	defer mu.RUnlock()
	return root.SubScope(component)
}

// GetTaggedScope returns a scoped metrics collector with additional tags.
//
//nolint:ireturn
func GetTaggedScope(component string, tags map[string]string) tally.Scope {
	return GetScope(component).Tagged(tags)
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }
