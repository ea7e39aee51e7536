// Package lmdbstore is an embedded wide-column store on LMDB. Each table is
// a named database (DBI) in one environment.
package lmdbstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
)

const tableDBIPrefix = "tbl."

var registry = cellstore.NewRegistry[*LmdbEngine]()

// compile time check.
var _ cellstore.Engine = (*LmdbEngine)(nil)

// LmdbEngine stores an initialized lmdb environment.
// http://www.lmdb.tech/doc/group__mdb.html
type LmdbEngine struct {
	env *lmdb.Env

	mu   sync.RWMutex
	dbis map[string]lmdb.DBI
}

// Dial opens (or shares) the environment in cfg.Path and returns a connection to it.
func Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mapSize, err := cfg.ParseMapSize()
	if err != nil {
		return nil, err
	}
	engine, release, err := registry.Acquire(cfg.Path, func() (*LmdbEngine, error) {
		return Open(cfg.Path, mapSize, cfg.TableLimit(), cfg.NoSync)
	})
	if err != nil {
		return nil, err
	}
	return cellstore.NewConn(kvstore.BackendLMDB, engine, release), nil
}

// Open returns an initialized environment in the directory path.
func Open(path string, mapSize int64, maxTables int, noSync bool) (*LmdbEngine, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, err
	}

	if err := env.SetMaxDBs(maxTables); err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("failed to set max DBs: %w", err)
	}
	if err := env.SetMapSize(mapSize); err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("failed to set map size: %w", err)
	}
	if err := env.Open(path, lmdb.Create|lmdb.NoReadahead|lmdb.NoTLS, 0644); err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("failed to open environment: %w", err)
	}
	if noSync {
		if err := env.SetFlags(lmdb.NoSync); err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("failed to set no sync: %w", err)
		}
	}

	staleReaders, err := env.ReaderCheck()
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("failed to check for stale readers: %w", err)
	}
	if staleReaders > 0 {
		slog.Warn("[kvbulk.lmdbstore] cleared reader slots from dead processes",
			slog.Int("stale_readers", staleReaders))
	}

	return &LmdbEngine{env: env, dbis: make(map[string]lmdb.DBI)}, nil
}

// dbi returns the handle of table, opening it inside a committed write
// transaction so the handle outlives it.
func (l *LmdbEngine) dbi(table string, create bool) (lmdb.DBI, error) {
	l.mu.RLock()
	dbi, ok := l.dbis[table]
	l.mu.RUnlock()
	if ok {
		return dbi, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if dbi, ok := l.dbis[table]; ok {
		return dbi, nil
	}

	var flags uint
	if create {
		flags = lmdb.Create
	}
	err := l.env.Update(func(txn *lmdb.Txn) error {
		var err error
		dbi, err = txn.OpenDBI(tableDBIPrefix+table, flags)
		return err
	})
	if lmdb.IsNotFound(err) {
		return 0, kvstore.ErrTableNotFound
	}
	if err != nil {
		return 0, err
	}
	l.dbis[table] = dbi
	return dbi, nil
}

// CreateTable creates the DBI backing table.
func (l *LmdbEngine) CreateTable(name string) error {
	ok, err := l.HasTable(name)
	if err != nil {
		return err
	}
	if ok {
		return kvstore.ErrTableExists
	}
	_, err = l.dbi(name, true)
	return err
}

// HasTable reports whether the table DBI exists.
func (l *LmdbEngine) HasTable(name string) (bool, error) {
	_, err := l.dbi(name, false)
	if err == kvstore.ErrTableNotFound {
		return false, nil
	}
	return err == nil, err
}

// View runs fn in a read-only transaction on table.
func (l *LmdbEngine) View(table string, fn func(cellstore.Txn) error) error {
	dbi, err := l.dbi(table, false)
	if err != nil {
		return err
	}
	return l.env.View(func(txn *lmdb.Txn) error {
		return fn(&lmdbTxn{txn: txn, dbi: dbi})
	})
}

// Update runs fn in a read-write transaction on table.
func (l *LmdbEngine) Update(table string, fn func(cellstore.Txn) error) error {
	dbi, err := l.dbi(table, false)
	if err != nil {
		return err
	}
	return l.env.Update(func(txn *lmdb.Txn) error {
		return fn(&lmdbTxn{txn: txn, dbi: dbi})
	})
}

// FSync Call the underlying Fsync.
func (l *LmdbEngine) FSync() error {
	return l.env.Sync(true)
}

// Close the underlying lmdb env.
func (l *LmdbEngine) Close() error {
	return l.env.Close()
}

type lmdbTxn struct {
	txn *lmdb.Txn
	dbi lmdb.DBI
}

func (t *lmdbTxn) Get(key []byte) ([]byte, bool, error) {
	v, err := t.txn.Get(t.dbi, key)
	if lmdb.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *lmdbTxn) Put(key, value []byte) error {
	return t.txn.Put(t.dbi, key, value, 0)
}

func (t *lmdbTxn) Delete(key []byte) error {
	err := t.txn.Del(t.dbi, key, nil)
	if lmdb.IsNotFound(err) {
		return nil
	}
	return err
}

func (t *lmdbTxn) Ascend(start []byte, fn func(key, value []byte) (bool, error)) error {
	cur, err := t.txn.OpenCursor(t.dbi)
	if err != nil {
		return err
	}
	defer cur.Close()

	k, v, err := cur.Get(start, nil, lmdb.SetRange)
	for {
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		more, ferr := fn(k, v)
		if ferr != nil {
			return ferr
		}
		if !more {
			return nil
		}
		k, v, err = cur.Get(nil, nil, lmdb.Next)
	}
}
