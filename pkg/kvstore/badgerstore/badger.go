// Package badgerstore is an embedded wide-column store on Badger. All
// tables share one keyspace: a table's cells live under its data prefix and
// its existence is recorded under a meta key.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/internal/keycodec"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"
)

const (
	metaPrefix = 'm'
	dataPrefix = 'd'

	maxConflictRetries = 20
)

var registry = cellstore.NewRegistry[*BadgerEngine]()

// compile time check.
var _ cellstore.Engine = (*BadgerEngine)(nil)

// BadgerEngine wraps an opened badger database.
type BadgerEngine struct {
	db *badger.DB
}

// Dial opens (or shares) the database in cfg.Path and returns a connection to it.
func Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	engine, release, err := registry.Acquire(cfg.Path, func() (*BadgerEngine, error) {
		return Open(cfg.Path, cfg.NoSync)
	})
	if err != nil {
		return nil, err
	}
	return cellstore.NewConn(kvstore.BackendBadger, engine, release), nil
}

// Open opens (or creates) a badger database in dir.
func Open(dir string, noSync bool) (*BadgerEngine, error) {
	fp := filepath.Clean(dir)
	opts := badger.DefaultOptions(fp)
	opts.Dir, opts.ValueDir = fp, fp
	opts.SyncWrites = !noSync
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &BadgerEngine{db: db}, nil
}

func metaKey(table string) []byte {
	return append([]byte{metaPrefix}, table...)
}

func tablePrefix(table string) []byte {
	return keycodec.AppendField([]byte{dataPrefix}, []byte(table))
}

func (b *BadgerEngine) CreateTable(name string) error {
	return b.update(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(name))
		if err == nil {
			return kvstore.ErrTableExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(metaKey(name), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

func (b *BadgerEngine) HasTable(name string) (bool, error) {
	var ok bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = hasTable(txn, name)
		return err
	})
	return ok, err
}

func hasTable(txn *badger.Txn, name string) (bool, error) {
	_, err := txn.Get(metaKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *BadgerEngine) View(table string, fn func(cellstore.Txn) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		ok, err := hasTable(txn, table)
		if err != nil {
			return err
		}
		if !ok {
			return kvstore.ErrTableNotFound
		}
		return fn(&prefixTxn{txn: txn, prefix: tablePrefix(table)})
	})
}

// Update runs fn in a read-write transaction, retrying it when badger
// reports a write conflict with a concurrent transaction.
func (b *BadgerEngine) Update(table string, fn func(cellstore.Txn) error) error {
	return b.update(func(txn *badger.Txn) error {
		ok, err := hasTable(txn, table)
		if err != nil {
			return err
		}
		if !ok {
			return kvstore.ErrTableNotFound
		}
		return fn(&prefixTxn{txn: txn, prefix: tablePrefix(table)})
	})
}

func (b *BadgerEngine) update(fn func(txn *badger.Txn) error) error {
	attempt := 0
	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		attempt++
		err := b.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			slog.Debug("[kvbulk.badgerstore] transaction conflict, retrying", "attempt", attempt)
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(conflictBackOff()),
		backoff.WithMaxTries(maxConflictRetries),
	)
	return err
}

func conflictBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	return bo
}

// FSync syncs the value log and memtables to disk.
func (b *BadgerEngine) FSync() error {
	return b.db.Sync()
}

func (b *BadgerEngine) Close() error {
	return b.db.Close()
}

type prefixTxn struct {
	txn    *badger.Txn
	prefix []byte
}

func (t *prefixTxn) key(k []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	out = append(out, t.prefix...)
	return append(out, k...)
}

func (t *prefixTxn) Get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(t.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *prefixTxn) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return t.txn.Set(t.key(key), bytes.Clone(value))
}

func (t *prefixTxn) Delete(key []byte) error {
	return t.txn.Delete(t.key(key))
}

func (t *prefixTxn) Ascend(start []byte, fn func(key, value []byte) (bool, error)) error {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(t.key(start)); it.ValidForPrefix(t.prefix); it.Next() {
		item := it.Item()
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := fn(item.Key()[len(t.prefix):], v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
