package connpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/backends"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/memstore"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
)

type fakeConn struct {
	id     string
	closed atomic.Int32
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Table(context.Context, string) (kvstore.Table, error) {
	return nil, kvstore.ErrTableNotFound
}
func (f *fakeConn) CreateTable(context.Context, string) error { return nil }
func (f *fakeConn) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int
	failWith error
	delay    time.Duration
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, d.failWith
	}
	c := &fakeConn{id: gofakeit.UUID()}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func memConfig(name string) kvstore.Config {
	return kvstore.Config{Backend: kvstore.BackendMemory, Path: name}
}

func TestAcquireSharesConnectionPerConfig(t *testing.T) {
	d := &fakeDialer{}
	p := New(d, Options{})
	defer p.Close()
	ctx := context.Background()

	a1, err := p.Acquire(ctx, memConfig("a"))
	require.NoError(t, err)
	a2, err := p.Acquire(ctx, memConfig("a"))
	require.NoError(t, err)
	b, err := p.Acquire(ctx, memConfig("b"))
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, d.dialCount())

	s := p.Stats()
	assert.Equal(t, 2, s.Open)
	assert.Equal(t, 2, s.InUse)
	assert.Equal(t, int64(3), s.Acquires)

	require.NoError(t, p.Release(memConfig("a"), a1))
	require.NoError(t, p.Release(memConfig("a"), a2))
	require.NoError(t, p.Release(memConfig("b"), b))
	s = p.Stats()
	assert.Equal(t, 0, s.InUse)
	assert.Equal(t, 2, s.Open, "connections stay cached after release")
}

func TestConcurrentFirstAcquireDialsOnce(t *testing.T) {
	d := &fakeDialer{delay: 20 * time.Millisecond}
	p := New(d, Options{})
	defer p.Close()
	cfg := memConfig("shared")

	const workers = 16
	conns := make([]kvstore.Connection, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Acquire(context.Background(), cfg)
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, d.dialCount())
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
	for _, c := range conns {
		require.NoError(t, p.Release(cfg, c))
	}
	assert.ErrorIs(t, p.Release(cfg, conns[0]), ErrNotAcquired, "one release too many")
}

func TestReleaseRequiresMatchingAcquire(t *testing.T) {
	p := New(&fakeDialer{}, Options{})
	defer p.Close()
	cfg := memConfig("x")

	assert.ErrorIs(t, p.Release(cfg, &fakeConn{id: "stranger"}), ErrNotAcquired)

	c, err := p.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Release(memConfig("y"), c), ErrNotAcquired, "wrong config")
	assert.ErrorIs(t, p.Release(cfg, &fakeConn{id: "other"}), ErrNotAcquired, "wrong connection")
	require.NoError(t, p.Release(cfg, c))
	assert.ErrorIs(t, p.Release(cfg, c), ErrNotAcquired)
}

func TestDialRetriesTransientFailures(t *testing.T) {
	d := &fakeDialer{failures: 2, failWith: errors.New("connection refused")}
	p := New(d, Options{DialAttempts: 3, DialBackoff: time.Millisecond})
	defer p.Close()

	c, err := p.Acquire(context.Background(), memConfig("retry"))
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 3, d.dialCount())
}

func TestDialGivesUp(t *testing.T) {
	t.Run("attempts exhausted", func(t *testing.T) {
		d := &fakeDialer{failures: 10, failWith: errors.New("connection refused")}
		p := New(d, Options{DialAttempts: 2, DialBackoff: time.Millisecond})
		defer p.Close()

		_, err := p.Acquire(context.Background(), memConfig("down"))
		assert.Error(t, err)
		assert.Equal(t, 2, d.dialCount())
		assert.Zero(t, p.Stats().Open)
	})

	t.Run("permanent error", func(t *testing.T) {
		d := &fakeDialer{failures: 10, failWith: kvstore.ErrUnknownBackend}
		p := New(d, Options{DialAttempts: 5, DialBackoff: time.Millisecond})
		defer p.Close()

		_, err := p.Acquire(context.Background(), memConfig("bad"))
		assert.ErrorIs(t, err, kvstore.ErrUnknownBackend)
		assert.Equal(t, 1, d.dialCount())
	})
}

func TestCloseIdle(t *testing.T) {
	d := &fakeDialer{}
	p := New(d, Options{})
	p.opts.IdleTimeout = time.Minute
	defer p.Close()
	ctx := context.Background()

	busy, err := p.Acquire(ctx, memConfig("busy"))
	require.NoError(t, err)
	idle, err := p.Acquire(ctx, memConfig("idle"))
	require.NoError(t, err)
	require.NoError(t, p.Release(memConfig("idle"), idle))

	assert.Zero(t, p.closeIdle(time.Now()), "nothing has been idle long enough")
	assert.Equal(t, 1, p.closeIdle(time.Now().Add(2*time.Minute)))
	assert.Equal(t, int32(1), idle.(*fakeConn).closed.Load())
	assert.Zero(t, busy.(*fakeConn).closed.Load(), "referenced connections are never reaped")

	again, err := p.Acquire(ctx, memConfig("idle"))
	require.NoError(t, err)
	assert.NotSame(t, idle, again)
	assert.Equal(t, 3, d.dialCount())
}

func TestJanitorClosesIdleConnections(t *testing.T) {
	d := &fakeDialer{}
	p := New(d, Options{IdleTimeout: 20 * time.Millisecond})
	defer p.Close()

	c, err := p.Acquire(context.Background(), memConfig("j"))
	require.NoError(t, err)
	require.NoError(t, p.Release(memConfig("j"), c))

	assert.Eventually(t, func() bool {
		return p.Stats().Open == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), c.(*fakeConn).closed.Load())
}

func TestCloseClosesEverything(t *testing.T) {
	d := &fakeDialer{}
	p := New(d, Options{IdleTimeout: time.Hour})
	ctx := context.Background()

	c, err := p.Acquire(ctx, memConfig("c"))
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "close is idempotent")
	assert.Equal(t, int32(1), c.(*fakeConn).closed.Load())

	_, err = p.Acquire(ctx, memConfig("c"))
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.ErrorIs(t, p.Release(memConfig("c"), c), ErrPoolClosed)
}

func TestPoolMetrics(t *testing.T) {
	scope := tally.NewTestScope("", nil)
	p := New(&fakeDialer{}, Options{Scope: scope})
	defer p.Close()
	cfg := memConfig("m")

	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, p.Release(cfg, c))
	}

	counters := scope.Snapshot().Counters()
	require.Contains(t, counters, "acquire_total+")
	assert.Equal(t, int64(3), counters["acquire_total+"].Value())
	assert.Equal(t, int64(3), counters["release_total+"].Value())
	assert.Equal(t, int64(1), counters["dial_total+"].Value())
}

func TestPoolOverMemoryBackend(t *testing.T) {
	name := gofakeit.UUID()
	t.Cleanup(func() { memstore.Drop(name) })
	cfg := memConfig(name)
	ctx := context.Background()

	p := New(backends.Dialer, Options{})
	defer p.Close()

	conn, err := p.Acquire(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, conn.CreateTable(ctx, "t"))
	require.NoError(t, p.Release(cfg, conn))

	_, err = p.Acquire(ctx, kvstore.Config{Backend: "nope", Path: "x"})
	assert.ErrorIs(t, err, kvstore.ErrUnknownBackend)
}
