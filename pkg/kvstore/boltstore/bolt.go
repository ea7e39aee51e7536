// Package boltstore is an embedded wide-column store on bbolt. Each table is
// a bucket; cells are keyed with the keycodec format.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"go.etcd.io/bbolt"
)

const tableBucketPrefix = "tbl."

var registry = cellstore.NewRegistry[*BoltEngine]()

// compile time check.
var _ cellstore.Engine = (*BoltEngine)(nil)

// BoltEngine wraps an opened bbolt database.
type BoltEngine struct {
	db   *bbolt.DB
	path string
}

// Dial opens (or shares) the database at cfg.Path and returns a connection to it.
func Dial(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout, err := cfg.ParseDialTimeout()
	if err != nil {
		return nil, err
	}
	engine, release, err := registry.Acquire(cfg.Path, func() (*BoltEngine, error) {
		return Open(cfg.Path, &bbolt.Options{Timeout: timeout, NoSync: cfg.NoSync})
	})
	if err != nil {
		return nil, err
	}
	return cellstore.NewConn(kvstore.BackendBolt, engine, release), nil
}

// Open opens (or creates) a bbolt database file at path.
func Open(path string, opts *bbolt.Options) (*BoltEngine, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	db, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, err
	}
	return &BoltEngine{db: db, path: path}, nil
}

func bucketName(table string) []byte {
	return []byte(tableBucketPrefix + table)
}

// CreateTable creates the bucket backing table.
func (b *BoltEngine) CreateTable(name string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucket(bucketName(name))
		if errors.Is(err, bbolt.ErrBucketExists) {
			return kvstore.ErrTableExists
		}
		return err
	})
}

// HasTable reports whether the table bucket exists.
func (b *BoltEngine) HasTable(name string) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(bucketName(name)) != nil
		return nil
	})
	return ok, err
}

// View runs fn in a read-only transaction on table.
func (b *BoltEngine) View(table string, fn func(cellstore.Txn) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(table))
		if bucket == nil {
			return kvstore.ErrTableNotFound
		}
		return fn(bucketTxn{bucket: bucket})
	})
}

// Update runs fn in a read-write transaction on table. The transaction is
// rolled back if fn fails.
func (b *BoltEngine) Update(table string, fn func(cellstore.Txn) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(table))
		if bucket == nil {
			return kvstore.ErrTableNotFound
		}
		return fn(bucketTxn{bucket: bucket})
	})
}

// FSync ensures all database pages are flushed to disk.
func (b *BoltEngine) FSync() error {
	return b.db.Sync()
}

// Close closes the underlying BoltDB database.
func (b *BoltEngine) Close() error {
	return b.db.Close()
}

type bucketTxn struct {
	bucket *bbolt.Bucket
}

// Get seeks instead of calling Bucket.Get so that an empty stored value is
// still reported as found.
func (t bucketTxn) Get(key []byte) ([]byte, bool, error) {
	k, v := t.bucket.Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

func (t bucketTxn) Put(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return t.bucket.Put(key, value)
}

func (t bucketTxn) Delete(key []byte) error {
	return t.bucket.Delete(key)
}

func (t bucketTxn) Ascend(start []byte, fn func(key, value []byte) (bool, error)) error {
	c := t.bucket.Cursor()
	for k, v := c.Seek(start); k != nil; k, v = c.Next() {
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
