// Package kvstore defines the contract between the bulk execution layer and
// a wide-column key-value store, together with the configuration that
// identifies how to reach one.
package kvstore

import (
	"context"
	"errors"
	"iter"

	"github.com/ankur-anand/kvbulk/pkg/record"
)

var (
	ErrTableNotFound   = errors.New("table not found")
	ErrTableExists     = errors.New("table already exists")
	ErrClosed          = errors.New("connection is closed")
	ErrUnknownBackend  = errors.New("unknown store backend")
	ErrInvalidArgument = errors.New("invalid argument")
)

// DefaultScanCaching is the scan page size used when record.Scan.Caching is zero.
const DefaultScanCaching = 100

// Connection is a handle to a store. It is owned by a Pool and borrowed by
// one partition task at a time.
type Connection interface {
	// ID identifies the connection in logs and metrics.
	ID() string
	// Table opens a handle on an existing table.
	Table(ctx context.Context, name string) (Table, error)
	// CreateTable creates an empty table.
	CreateTable(ctx context.Context, name string) error
	Close() error
}

// Table is a per-table handle opened from a Connection. It is used by a
// single goroutine and closed by the partition that opened it.
type Table interface {
	Name() string
	// Mutate applies a single write.
	Mutate(ctx context.Context, m record.Mutation) error
	// Batch applies every mutation in one atomic store call.
	Batch(ctx context.Context, ms []record.Mutation) error
	// CheckAndMutate evaluates the condition and applies the action
	// atomically. It reports whether the action was applied.
	CheckAndMutate(ctx context.Context, cm record.ConditionalMutation) (bool, error)
	// BatchGet returns one result per get, in request order.
	BatchGet(ctx context.Context, gets []record.Get) ([]record.Result, error)
	// ScanPage returns up to limit rows of the range starting at from
	// (inclusive). A nil from starts at the range start.
	ScanPage(ctx context.Context, spec record.Scan, from []byte, limit int) (record.ScanPage, error)
	Close() error
}

// Dialer establishes new connections.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Connection, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, cfg Config) (Connection, error)

func (f DialFunc) Dial(ctx context.Context, cfg Config) (Connection, error) {
	return f(ctx, cfg)
}

// Pool hands out connections for a config. Every successful Acquire must
// be paired with exactly one Release of the same connection. Implementations
// are safe for concurrent use.
type Pool interface {
	Acquire(ctx context.Context, cfg Config) (Connection, error)
	Release(cfg Config, conn Connection) error
}

// ScanRows pages through the scan range of t and yields every row in key
// order. Iteration stops at the first error, which is yielded once.
func ScanRows(ctx context.Context, t Table, spec record.Scan) iter.Seq2[record.KeyedResult, error] {
	limit := spec.Caching
	if limit <= 0 {
		limit = DefaultScanCaching
	}

	return func(yield func(record.KeyedResult, error) bool) {
		var from []byte
		for {
			if err := ctx.Err(); err != nil {
				yield(record.KeyedResult{}, err)
				return
			}
			page, err := t.ScanPage(ctx, spec, from, limit)
			if err != nil {
				yield(record.KeyedResult{}, err)
				return
			}
			for _, row := range page.Rows {
				if !yield(record.KeyedResult{Key: row.RowKey, Result: row}, nil) {
					return
				}
			}
			if page.Next == nil {
				return
			}
			from = page.Next
		}
	}
}
