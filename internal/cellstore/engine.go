package cellstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/segmentio/ksuid"
)

// Engine is the part an embedded backend provides: table management and
// read/write transactions over one table.
type Engine interface {
	CreateTable(name string) error
	HasTable(name string) (bool, error)
	View(table string, fn func(Txn) error) error
	Update(table string, fn func(Txn) error) error
}

// compile time check.
var (
	_ kvstore.Connection = (*Conn)(nil)
	_ kvstore.Table      = (*Table)(nil)
)

// Conn is a kvstore.Connection over an Engine.
type Conn struct {
	id      string
	backend string
	engine  Engine
	release func() error
	closed  atomic.Bool
	once    sync.Once
}

// NewConn wraps engine. release is called once on Close and is expected to
// drop this connection's reference on the engine.
func NewConn(backend string, engine Engine, release func() error) *Conn {
	return &Conn{
		id:      backend + "-" + ksuid.New().String(),
		backend: backend,
		engine:  engine,
		release: release,
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Table opens a handle on an existing table.
func (c *Conn) Table(ctx context.Context, name string) (kvstore.Table, error) {
	if c.closed.Load() {
		return nil, kvstore.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := c.engine.HasTable(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kvstore.ErrTableNotFound
	}
	return &Table{
		name:   name,
		conn:   c,
		engine: c.engine,
		mt:     NewMetricsTracker(c.backend, name),
	}, nil
}

// CreateTable creates an empty table.
func (c *Conn) CreateTable(ctx context.Context, name string) error {
	if c.closed.Load() {
		return kvstore.ErrClosed
	}
	if name == "" {
		return kvstore.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.engine.CreateTable(name)
}

// Close releases the engine reference. Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		if c.release != nil {
			err = c.release()
		}
	})
	return err
}

// Table is a kvstore.Table over an Engine.
type Table struct {
	name   string
	conn   *Conn
	engine Engine
	mt     *MetricsTracker
	closed bool
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) usable(ctx context.Context) error {
	if t.closed || t.conn.closed.Load() {
		return kvstore.ErrClosed
	}
	return ctx.Err()
}

func (t *Table) Mutate(ctx context.Context, m record.Mutation) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := t.engine.Update(t.name, func(tx Txn) error {
		return Apply(tx, m)
	})
	t.mt.RecordOp(OpMutate, 1, start, err)
	return err
}

func (t *Table) Batch(ctx context.Context, ms []record.Mutation) error {
	if err := t.usable(ctx); err != nil {
		return err
	}
	if len(ms) == 0 {
		return nil
	}
	start := time.Now()
	err := t.engine.Update(t.name, func(tx Txn) error {
		return ApplyAll(tx, ms)
	})
	t.mt.RecordOp(OpBatch, len(ms), start, err)
	return err
}

func (t *Table) CheckAndMutate(ctx context.Context, cm record.ConditionalMutation) (bool, error) {
	if err := t.usable(ctx); err != nil {
		return false, err
	}
	start := time.Now()
	var applied bool
	err := t.engine.Update(t.name, func(tx Txn) error {
		var err error
		applied, err = CheckAndMutate(tx, cm)
		return err
	})
	t.mt.RecordOp(OpCheckAndMutate, 1, start, err)
	return applied, err
}

func (t *Table) BatchGet(ctx context.Context, gets []record.Get) ([]record.Result, error) {
	if err := t.usable(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	var out []record.Result
	err := t.engine.View(t.name, func(tx Txn) error {
		var err error
		out, err = ReadRows(tx, gets)
		return err
	})
	t.mt.RecordOp(OpBatchGet, len(gets), start, err)
	return out, err
}

func (t *Table) ScanPage(ctx context.Context, spec record.Scan, from []byte, limit int) (record.ScanPage, error) {
	if err := t.usable(ctx); err != nil {
		return record.ScanPage{}, err
	}
	start := time.Now()
	var page record.ScanPage
	err := t.engine.View(t.name, func(tx Txn) error {
		var err error
		page, err = ScanPage(tx, spec, from, limit)
		return err
	})
	t.mt.RecordOp(OpScan, len(page.Rows), start, err)
	return page, err
}

// Close marks the handle unusable. The connection stays open.
func (t *Table) Close() error {
	t.closed = true
	return nil
}
