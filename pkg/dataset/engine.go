package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// ErrTaskPanicked wraps a panic raised while processing a partition.
var ErrTaskPanicked = errors.New("partition task panicked")

// PartitionError reports the partition that failed and after how many
// attempts.
type PartitionError struct {
	Partition int
	Attempts  int
	Err       error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d failed after %d attempt(s): %v", e.Partition, e.Attempts, e.Err)
}

func (e *PartitionError) Unwrap() error {
	return e.Err
}

// Engine runs partition tasks with bounded parallelism. A failed task is
// recomputed from its partition up to MaxAttempts times; the first task
// that still fails cancels the others.
type Engine struct {
	parallelism   int
	maxAttempts   int
	retryInterval time.Duration
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithParallelism bounds how many partitions run at once.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithMaxAttempts sets how many times a failing partition is run.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the initial backoff between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine running GOMAXPROCS partitions at a time with
// a single attempt per partition unless configured otherwise.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		parallelism:   runtime.GOMAXPROCS(0),
		maxAttempts:   1,
		retryInterval: 50 * time.Millisecond,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Parallelism returns the configured parallelism.
func (e *Engine) Parallelism() int {
	return e.parallelism
}

// Task processes one partition.
type Task[T any] func(ctx context.Context, i int, part iter.Seq2[T, error]) error

// ForeachPartition runs task on every partition of ds and waits for all of
// them. It returns the first *PartitionError.
func ForeachPartition[T any](ctx context.Context, e *Engine, ds Dataset[T], task Task[T]) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i := 0; i < ds.NumPartitions(); i++ {
		g.Go(func() error {
			return e.runWithRetry(gctx, i, func(ctx context.Context) error {
				return task(ctx, i, ds.Partition(ctx, i))
			})
		})
	}
	return g.Wait()
}

// Collect materialises ds, partition by partition, in partition order.
func Collect[T any](ctx context.Context, e *Engine, ds Dataset[T]) ([]T, error) {
	parts := make([][]T, ds.NumPartitions())
	err := ForeachPartition(ctx, e, ds, func(_ context.Context, i int, part iter.Seq2[T, error]) error {
		var out []T
		for v, err := range part {
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		parts[i] = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total int
	for _, p := range parts {
		total += len(p)
	}
	all := make([]T, 0, total)
	for _, p := range parts {
		all = append(all, p...)
	}
	return all, nil
}

// Count returns the number of records in ds.
func Count[T any](ctx context.Context, e *Engine, ds Dataset[T]) (int, error) {
	counts := make([]int, ds.NumPartitions())
	err := ForeachPartition(ctx, e, ds, func(_ context.Context, i int, part iter.Seq2[T, error]) error {
		n := 0
		for _, err := range part {
			if err != nil {
				return err
			}
			n++
		}
		counts[i] = n
		return nil
	})
	var total int
	for _, n := range counts {
		total += n
	}
	return total, err
}

func (e *Engine) runWithRetry(ctx context.Context, i int, run func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := safeRun(ctx, run)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrTaskPanicked), ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(err)
		}
		if attempts < e.maxAttempts {
			e.logger.Warn("[kvbulk.dataset] partition failed, recomputing",
				"partition", i, "attempt", attempts, "err", err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.maxAttempts)),
	)
	if err == nil {
		return nil
	}
	e.logger.Error("[kvbulk.dataset] partition failed",
		"partition", i, "attempts", attempts, "err", err)
	return &PartitionError{Partition: i, Attempts: attempts, Err: err}
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrTaskPanicked, r, debug.Stack())
		}
	}()
	return run(ctx)
}
