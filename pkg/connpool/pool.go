// Package connpool caches store connections for the lifetime of a process.
// One connection is kept per config fingerprint and shared, reference
// counted, by every partition task that acquires it.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/umetrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/uber-go/tally/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPoolClosed  = errors.New("connection pool is closed")
	ErrNotAcquired = errors.New("connection was not acquired from this pool")
)

const (
	defaultDialAttempts = 3
	defaultDialBackoff  = 100 * time.Millisecond
)

// compile time check.
var _ kvstore.Pool = (*Pool)(nil)

// Options tunes a Pool. The zero value keeps connections until Close and
// dials up to three times.
type Options struct {
	// IdleTimeout closes connections nobody has held for this long. Zero
	// disables the janitor.
	IdleTimeout  time.Duration
	DialAttempts int
	// DialBackoff is the initial wait between dial attempts.
	DialBackoff time.Duration
	Logger      *slog.Logger
	Scope       tally.Scope
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Open     int
	InUse    int
	Dials    int64
	Acquires int64
	Releases int64
}

type entry struct {
	cfg      kvstore.Config
	conn     kvstore.Connection
	refs     int
	lastUsed time.Time
}

// Pool implements kvstore.Pool. It is safe for concurrent use and is meant
// to be created once per process and passed to every bulk operation.
type Pool struct {
	dialer kvstore.Dialer
	opts   Options
	logger *slog.Logger
	scope  tally.Scope

	group singleflight.Group

	mu       sync.Mutex
	entries  map[string]*entry
	closed   bool
	dials    int64
	acquires int64
	releases int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a pool dialing through dialer.
func New(dialer kvstore.Dialer, opts Options) *Pool {
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = defaultDialAttempts
	}
	if opts.DialBackoff <= 0 {
		opts.DialBackoff = defaultDialBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := opts.Scope
	if scope == nil {
		scope = umetrics.GetScope("pool")
	}

	p := &Pool{
		dialer:  dialer,
		opts:    opts,
		logger:  logger,
		scope:   scope,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	if opts.IdleTimeout > 0 {
		p.wg.Add(1)
		go p.janitor()
	}
	return p
}

// Acquire returns the pooled connection for cfg, dialing it on first use.
// Concurrent first acquires for the same config share a single dial.
func (p *Pool) Acquire(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	fp := cfg.Fingerprint()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if e, ok := p.entries[fp]; ok {
			e.refs++
			e.lastUsed = time.Now()
			p.acquires++
			p.mu.Unlock()
			p.scope.Counter("acquire_total").Inc(1)
			return e.conn, nil
		}
		p.mu.Unlock()

		_, err, shared := p.group.Do(fp, func() (any, error) {
			return nil, p.dialEntry(ctx, fp, cfg)
		})
		if err != nil {
			return nil, err
		}
		if shared {
			p.logger.Debug("[kvbulk.connpool] joined in-flight dial", "store", cfg.String())
		}
		// the entry now exists unless the janitor or Close raced us; loop to
		// take the reference under the lock.
	}
}

func (p *Pool) dialEntry(ctx context.Context, fp string, cfg kvstore.Config) error {
	p.mu.Lock()
	_, ok := p.entries[fp]
	p.mu.Unlock()
	if ok {
		return nil
	}

	conn, err := p.dial(ctx, cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = conn.Close()
		return ErrPoolClosed
	}
	p.entries[fp] = &entry{cfg: cfg, conn: conn, lastUsed: time.Now()}
	p.dials++
	p.scope.Gauge("open_connections").Update(float64(len(p.entries)))
	p.logger.Info("[kvbulk.connpool] connection opened", "store", cfg.String(), "conn_id", conn.ID())
	return nil
}

func (p *Pool) dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	timeout, err := cfg.ParseDialTimeout()
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.DialBackoff

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (kvstore.Connection, error) {
		attempt++
		p.scope.Counter("dial_total").Inc(1)

		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := p.dialer.Dial(dctx, cfg)
		if err == nil {
			return conn, nil
		}
		p.scope.Counter("dial_errors_total").Inc(1)
		if errors.Is(err, kvstore.ErrUnknownBackend) || errors.Is(err, kvstore.ErrInvalidArgument) {
			return nil, backoff.Permanent(err)
		}
		p.logger.Warn("[kvbulk.connpool] dial failed",
			"store", cfg.String(), "attempt", attempt, "err", err)
		return nil, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.opts.DialAttempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("connpool: dial %s: %w", cfg.String(), err)
	}
	return conn, nil
}

// Release returns a connection obtained from Acquire. Each Acquire must be
// matched by exactly one Release; releasing a connection the pool does not
// hold a reference for returns ErrNotAcquired.
func (p *Pool) Release(cfg kvstore.Config, conn kvstore.Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	e, ok := p.entries[cfg.Fingerprint()]
	if !ok || e.conn != conn || e.refs == 0 {
		return ErrNotAcquired
	}
	e.refs--
	e.lastUsed = time.Now()
	p.releases++
	p.scope.Counter("release_total").Inc(1)
	return nil
}

// Stats reports the current pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Open: len(p.entries), Dials: p.dials, Acquires: p.acquires, Releases: p.releases}
	for _, e := range p.entries {
		if e.refs > 0 {
			s.InUse++
		}
	}
	return s
}

func (p *Pool) janitor() {
	defer p.wg.Done()

	interval := p.opts.IdleTimeout / 2
	if interval <= 0 {
		interval = p.opts.IdleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case now := <-ticker.C:
			if n := p.closeIdle(now); n > 0 {
				p.logger.Debug("[kvbulk.connpool] closed idle connections", "count", n)
			}
		}
	}
}

// closeIdle closes every unreferenced connection idle since before
// now-IdleTimeout and returns how many were closed.
func (p *Pool) closeIdle(now time.Time) int {
	p.mu.Lock()
	var idle []*entry
	for fp, e := range p.entries {
		if e.refs == 0 && now.Sub(e.lastUsed) >= p.opts.IdleTimeout {
			idle = append(idle, e)
			delete(p.entries, fp)
		}
	}
	p.scope.Gauge("open_connections").Update(float64(len(p.entries)))
	p.mu.Unlock()

	for _, e := range idle {
		if err := e.conn.Close(); err != nil {
			p.logger.Warn("[kvbulk.connpool] closing idle connection failed",
				"store", e.cfg.String(), "err", err)
		}
	}
	p.scope.Counter("idle_closed_total").Inc(int64(len(idle)))
	return len(idle)
}

// Close closes every pooled connection, including ones still referenced.
// Further Acquire calls fail with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	p.wg.Wait()

	var errs []error
	for _, e := range entries {
		if e.refs > 0 {
			p.logger.Warn("[kvbulk.connpool] closing connection still in use",
				"store", e.cfg.String(), "refs", e.refs)
		}
		if err := e.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.scope.Gauge("open_connections").Update(0)
	return errors.Join(errs...)
}
