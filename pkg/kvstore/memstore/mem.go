// Package memstore is an in-process wide-column store kept in copy-on-write
// B-trees. Instances are named by Config.Path and live until Drop is called,
// so every connection dialed with the same name sees the same tables.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/google/btree"
)

const degree = 32

var (
	instancesMu sync.Mutex
	instances   = make(map[string]*MemEngine)
)

// compile time check.
var _ cellstore.Engine = (*MemEngine)(nil)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemEngine holds one B-tree per table. Writers work on a clone and swap it
// in on success, so readers always see a committed snapshot and a failed
// update leaves no trace.
type MemEngine struct {
	writeMu sync.Mutex

	mu     sync.Mutex
	tables map[string]*btree.BTreeG[item]
}

// New returns an empty, unnamed engine.
func New() *MemEngine {
	return &MemEngine{tables: make(map[string]*btree.BTreeG[item])}
}

// Dial returns a connection to the named instance, creating it on first use.
func Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cellstore.NewConn(kvstore.BackendMemory, Instance(cfg.Path), nil), nil
}

// Instance returns the named engine, creating it on first use.
func Instance(name string) *MemEngine {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	e, ok := instances[name]
	if !ok {
		e = New()
		instances[name] = e
	}
	return e
}

// Drop forgets the named instance. Connections already holding it keep
// working on the orphaned engine.
func Drop(name string) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	delete(instances, name)
}

func (m *MemEngine) CreateTable(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; ok {
		return kvstore.ErrTableExists
	}
	m.tables[name] = btree.NewG[item](degree, less)
	return nil
}

func (m *MemEngine) HasTable(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[name]
	return ok, nil
}

func (m *MemEngine) snapshot(table string) (*btree.BTreeG[item], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, kvstore.ErrTableNotFound
	}
	return t.Clone(), nil
}

func (m *MemEngine) View(table string, fn func(cellstore.Txn) error) error {
	snap, err := m.snapshot(table)
	if err != nil {
		return err
	}
	return fn(treeTxn{tree: snap, readOnly: true})
}

func (m *MemEngine) Update(table string, fn func(cellstore.Txn) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	work, err := m.snapshot(table)
	if err != nil {
		return err
	}
	if err := fn(treeTxn{tree: work}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		return kvstore.ErrTableNotFound
	}
	m.tables[table] = work
	return nil
}

// Len returns the number of cells stored in table.
func (m *MemEngine) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return 0
	}
	return t.Len()
}

type treeTxn struct {
	tree     *btree.BTreeG[item]
	readOnly bool
}

func (t treeTxn) Get(key []byte) ([]byte, bool, error) {
	it, ok := t.tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return it.value, true, nil
}

func (t treeTxn) Put(key, value []byte) error {
	if t.readOnly {
		return kvstore.ErrInvalidArgument
	}
	t.tree.ReplaceOrInsert(item{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (t treeTxn) Delete(key []byte) error {
	if t.readOnly {
		return kvstore.ErrInvalidArgument
	}
	t.tree.Delete(item{key: key})
	return nil
}

func (t treeTxn) Ascend(start []byte, fn func(key, value []byte) (bool, error)) error {
	var ferr error
	t.tree.AscendGreaterOrEqual(item{key: start}, func(it item) bool {
		var more bool
		more, ferr = fn(it.key, it.value)
		return ferr == nil && more
	})
	return ferr
}
