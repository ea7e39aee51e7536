// Package bulk runs reads and writes against a kvstore table from every
// partition of a dataset. Each partition borrows one pooled connection for
// its whole lifetime and groups its requests into batched store calls.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ankur-anand/kvbulk/pkg/dataset"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/backends"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/uber-go/tally/v4"
)

var (
	// ErrAcquire wraps every failure to borrow a connection from the pool.
	ErrAcquire             = errors.New("acquire connection")
	ErrInvalidBatchPolicy  = errors.New("invalid batch policy")
	ErrResultCountMismatch = errors.New("store returned a different number of results")
)

const (
	DefaultBatchSize    = 1000
	DefaultGetBatchSize = 100
)

// Options tune how the facade batches requests.
type Options struct {
	// BatchSize is the flush threshold for puts, increments and deletes.
	BatchSize int `toml:"batch_size"`
	// AutoFlush sends every put on its own, unbuffered.
	AutoFlush bool `toml:"auto_flush"`
	// GetBatchSize is the number of rows read per batched get.
	GetBatchSize int `toml:"get_batch_size"`
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.GetBatchSize <= 0 {
		o.GetBatchSize = DefaultGetBatchSize
	}
	return o
}

// Client binds a pool, a store config and an engine. It is created once
// per job and shared by every bulk operation.
type Client struct {
	pool     kvstore.Pool
	cfg      kvstore.Config
	engine   *dataset.Engine
	dialer   kvstore.Dialer
	opts     Options
	observer Observer
	logger   *slog.Logger
	metrics  *Metrics
}

type ClientOption func(*Client)

func WithOptions(o Options) ClientOption {
	return func(c *Client) {
		c.opts = o.withDefaults()
	}
}

// WithObserver reports every partition state transition to o.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithScope reports flush and partition metrics under scope.
func WithScope(scope tally.Scope) ClientOption {
	return func(c *Client) {
		c.metrics = NewMetrics(scope)
	}
}

// WithDialer replaces the dialer used by scans, which bypass the pool.
func WithDialer(d kvstore.Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// New returns a Client that borrows connections for cfg from pool and runs
// actions on engine.
func New(pool kvstore.Pool, cfg kvstore.Config, engine *dataset.Engine, opts ...ClientOption) *Client {
	c := &Client{
		pool:   pool,
		cfg:    cfg,
		engine: engine,
		dialer: backends.Dialer,
		opts:   Options{}.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

func (c *Client) Config() kvstore.Config  { return c.cfg }
func (c *Client) Engine() *dataset.Engine { return c.engine }
func (c *Client) Options() Options        { return c.opts }

// BulkPut writes the put produced for every record. Puts are sent one by
// one when AutoFlush is set and in batches of BatchSize otherwise.
func BulkPut[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, fn func(T) (*record.Put, error)) error {
	policy := Batched(c.opts.BatchSize)
	if c.opts.AutoFlush {
		policy = Immediate
	}
	return writeMutations(ctx, c, ds, table, record.KindPut.String(), policy, mutationOf(fn))
}

// BulkIncrement applies the increment produced for every record in batches
// of BatchSize.
func BulkIncrement[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, fn func(T) (*record.Increment, error)) error {
	return writeMutations(ctx, c, ds, table, record.KindIncrement.String(), Batched(c.opts.BatchSize), mutationOf(fn))
}

// BulkDelete applies the delete produced for every record in batches of
// BatchSize.
func BulkDelete[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, fn func(T) (*record.Delete, error)) error {
	return writeMutations(ctx, c, ds, table, record.KindDelete.String(), Batched(c.opts.BatchSize), mutationOf(fn))
}

// BulkMutate writes mutations of any kind under an explicit policy.
func BulkMutate[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, policy BatchPolicy, fn func(T) (record.Mutation, error)) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	return writeMutations(ctx, c, ds, table, "mutate", policy, fn)
}

func mutationOf[T, M any, PM interface {
	*M
	record.Mutation
}](fn func(T) (PM, error)) func(T) (record.Mutation, error) {
	return func(v T) (record.Mutation, error) {
		m, err := fn(v)
		if err != nil {
			return nil, err
		}
		if (*M)(m) == nil {
			return nil, fmt.Errorf("%w: nil mutation", kvstore.ErrInvalidArgument)
		}
		return m, nil
	}
}

func writeMutations[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table, op string, policy BatchPolicy, fn func(T) (record.Mutation, error)) error {
	return ForeachPartition(ctx, c, ds, func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) error {
		tbl, err := p.Conn.Table(ctx, table)
		if err != nil {
			return fmt.Errorf("open table %s: %w", table, err)
		}
		sink := &MutationSink{Op: op, Metrics: c.metrics, BeforeFinalFlush: p.MarkFlushing}
		stats, err := sink.Apply(ctx, convertSeq(in, fn), tbl, policy)
		c.logger.Debug("[kvbulk.bulk] partition written",
			"op", op, "table", table, "partition", p.Index, "policy", policy.String(), "stats", stats)
		return err
	})
}

// BulkCheckAndPut sends one check-and-put per record. Whether each was
// applied is not reported; use CheckAndPutOutcomes for that.
func BulkCheckAndPut[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, fn func(T) (record.CheckAndPut, error)) error {
	return writeConditional(ctx, c, ds, table, conditionalOf(fn))
}

// BulkCheckAndDelete sends one check-and-delete per record.
func BulkCheckAndDelete[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, fn func(T) (record.CheckAndDelete, error)) error {
	return writeConditional(ctx, c, ds, table, conditionalOf(fn))
}

// CheckAndPutOutcomes is BulkCheckAndPut returning a lazy dataset with one
// outcome per record. Nothing is sent until the dataset is consumed.
func CheckAndPutOutcomes[T any](c *Client, ds dataset.Dataset[T], table string, fn func(T) (record.CheckAndPut, error)) dataset.Dataset[record.Outcome] {
	return conditionalOutcomes(c, ds, table, conditionalOf(fn))
}

// CheckAndDeleteOutcomes is BulkCheckAndDelete returning one outcome per
// record.
func CheckAndDeleteOutcomes[T any](c *Client, ds dataset.Dataset[T], table string, fn func(T) (record.CheckAndDelete, error)) dataset.Dataset[record.Outcome] {
	return conditionalOutcomes(c, ds, table, conditionalOf(fn))
}

func conditionalOf[T any, C record.CheckAndPut | record.CheckAndDelete](fn func(T) (C, error)) func(T) (record.ConditionalMutation, error) {
	return func(v T) (record.ConditionalMutation, error) {
		cm, err := fn(v)
		if err != nil {
			return nil, err
		}
		return any(cm).(record.ConditionalMutation), nil
	}
}

func writeConditional[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], table string, fn func(T) (record.ConditionalMutation, error)) error {
	return ForeachPartition(ctx, c, ds, func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) error {
		tbl, err := p.Conn.Table(ctx, table)
		if err != nil {
			return fmt.Errorf("open table %s: %w", table, err)
		}
		sink := &ConditionalSink{Metrics: c.metrics}
		stats, err := sink.Apply(ctx, convertSeq(in, fn), tbl, nil)
		c.logger.Debug("[kvbulk.bulk] partition conditionally written",
			"table", table, "partition", p.Index, "stats", stats)
		return err
	})
}

func conditionalOutcomes[T any](c *Client, ds dataset.Dataset[T], table string, fn func(T) (record.ConditionalMutation, error)) dataset.Dataset[record.Outcome] {
	return MapPartitions(c, ds, func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) iter.Seq2[record.Outcome, error] {
		return func(yield func(record.Outcome, error) bool) {
			tbl, err := p.Conn.Table(ctx, table)
			if err != nil {
				yield(record.Outcome{}, fmt.Errorf("open table %s: %w", table, err))
				return
			}
			sink := &ConditionalSink{Metrics: c.metrics}
			for o, err := range sink.Outcomes(ctx, convertSeq(in, fn), tbl) {
				if !yield(o, err) || err != nil {
					return
				}
			}
		}
	})
}

// BulkGet reads the row named by every record and returns a lazy dataset of
// the converted results, in record order within each partition. A partition
// is read in batches of GetBatchSize; its results are held in memory and
// the connection is released before the first result is handed out.
func BulkGet[T, U any](c *Client, ds dataset.Dataset[T], table string, makeGet func(T) (record.Get, error), convert func(record.Result) (U, error)) dataset.Dataset[U] {
	return dataset.MapPartitions(ds, func(ctx context.Context, i int, in iter.Seq2[T, error]) iter.Seq2[U, error] {
		return func(yield func(U, error) bool) {
			var out []U
			err := RunPartition(ctx, c, i, in, func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) error {
				tbl, err := p.Conn.Table(ctx, table)
				if err != nil {
					return fmt.Errorf("open table %s: %w", table, err)
				}
				pl := &GetPipeline[T, U]{
					MakeGet:          makeGet,
					Convert:          convert,
					Threshold:        c.opts.GetBatchSize,
					Metrics:          c.metrics,
					BeforeFinalFlush: p.MarkFlushing,
				}
				out, err = pl.Run(ctx, in, tbl)
				return err
			})
			if err != nil {
				var zero U
				yield(zero, err)
				return
			}
			for _, u := range out {
				if !yield(u, nil) {
					return
				}
			}
		}
	})
}

// ForeachPartition runs fn on every partition of ds with a borrowed
// connection and waits for all of them.
func ForeachPartition[T any](ctx context.Context, c *Client, ds dataset.Dataset[T], fn PartitionFunc[T]) error {
	return dataset.ForeachPartition(ctx, c.engine, ds, func(ctx context.Context, i int, part iter.Seq2[T, error]) error {
		return RunPartition(ctx, c, i, part, fn)
	})
}

// MapPartitions lazily derives a dataset with fn. A partition's connection
// is borrowed when its sequence is first iterated and held until the
// consumer is done with it.
func MapPartitions[T, U any](c *Client, ds dataset.Dataset[T], fn TransformFunc[T, U]) dataset.Dataset[U] {
	return dataset.MapPartitions(ds, func(ctx context.Context, i int, in iter.Seq2[T, error]) iter.Seq2[U, error] {
		return TransformPartition(ctx, c, i, in, fn)
	})
}
