package bulk

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
)

// errPartitionPanicked stands in for the error of a partition whose
// function panicked, so metrics count it as failed.
var errPartitionPanicked = errors.New("partition panicked")

// PartitionState is the lifecycle of one partition task.
type PartitionState uint8

const (
	StateIdle PartitionState = iota
	StateConnectionAcquired
	StateProcessing
	StateFlushing
	StateReleased
	StateDone
)

func (s PartitionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectionAcquired:
		return "connection_acquired"
	case StateProcessing:
		return "processing"
	case StateFlushing:
		return "flushing"
	case StateReleased:
		return "released"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Observer is notified of every partition state transition. It is called
// from the partition's goroutine and must be safe for concurrent use when
// partitions run in parallel.
type Observer interface {
	Transition(partition int, from, to PartitionState)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(partition int, from, to PartitionState)

func (f ObserverFunc) Transition(partition int, from, to PartitionState) {
	f(partition, from, to)
}

// Partition is what a partition function gets to work with: the borrowed
// connection and the hook to report the final flush.
type Partition struct {
	Index int
	Conn  kvstore.Connection

	observer Observer
	state    PartitionState
}

func (p *Partition) to(s PartitionState) {
	if p.observer != nil {
		p.observer.Transition(p.Index, p.state, s)
	}
	p.state = s
}

// MarkFlushing records that the input is exhausted and the final flush
// has started.
func (p *Partition) MarkFlushing() {
	if p.state == StateProcessing {
		p.to(StateFlushing)
	}
}

// State returns the current state.
func (p *Partition) State() PartitionState {
	return p.state
}

// PartitionFunc processes one partition with a borrowed connection.
type PartitionFunc[T any] func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) error

// RunPartition scopes a pooled connection to fn. The connection is acquired
// before fn runs and released exactly once afterwards, whether fn returns,
// fails or panics; a panic continues unwinding after the release.
func RunPartition[T any](ctx context.Context, c *Client, index int, in iter.Seq2[T, error], fn PartitionFunc[T]) (err error) {
	p := &Partition{Index: index, observer: c.observer}

	conn, err := c.pool.Acquire(ctx, c.cfg)
	if err != nil {
		p.to(StateDone)
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	p.Conn = conn
	p.to(StateConnectionAcquired)

	panicked := true
	defer func() {
		rerr := c.pool.Release(c.cfg, conn)
		p.to(StateReleased)
		if rerr != nil {
			c.logger.Error("[kvbulk.bulk] connection release failed",
				"partition", index, "conn_id", conn.ID(), "err", rerr)
			if err == nil {
				err = fmt.Errorf("release connection: %w", rerr)
			}
		}
		if panicked && err == nil {
			c.metrics.partition(errPartitionPanicked)
		} else {
			c.metrics.partition(err)
		}
		p.to(StateDone)
	}()

	p.to(StateProcessing)
	err = fn(ctx, p, in)
	panicked = false
	return err
}

// TransformFunc derives a lazy sequence from a partition.
type TransformFunc[T, U any] func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) iter.Seq2[U, error]

// TransformPartition is RunPartition for lazy results. Nothing is acquired
// until the returned sequence is iterated, and the connection stays
// borrowed until the consumer is finished with it: the sequence ends, the
// consumer stops early, or an error is yielded.
func TransformPartition[T, U any](ctx context.Context, c *Client, index int, in iter.Seq2[T, error], fn TransformFunc[T, U]) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		var (
			zero    U
			stopped bool
		)
		err := RunPartition(ctx, c, index, in, func(ctx context.Context, p *Partition, in iter.Seq2[T, error]) error {
			for u, err := range fn(ctx, p, in) {
				if err != nil {
					return err
				}
				if !yield(u, nil) {
					stopped = true
					return nil
				}
			}
			p.MarkFlushing()
			return nil
		})
		if err != nil && !stopped {
			yield(zero, err)
		}
	}
}

// convertSeq applies fn to every element of in, ending at the first error.
func convertSeq[T, U any](in iter.Seq2[T, error], fn func(T) (U, error)) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		var zero U
		for v, err := range in {
			if err != nil {
				yield(zero, err)
				return
			}
			u, err := fn(v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}
