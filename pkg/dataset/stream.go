package dataset

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// MicroBatch is one bounded slice of an unbounded stream.
type MicroBatch[T any] struct {
	ID   int64
	Data Dataset[T]
}

// Stream is a sequence of micro-batches. Batches are produced one at a time
// and each is processed to completion before the next is pulled.
type Stream[T any] interface {
	Batches(ctx context.Context) iter.Seq2[MicroBatch[T], error]
}

// StreamFunc adapts a function to Stream.
type StreamFunc[T any] func(ctx context.Context) iter.Seq2[MicroBatch[T], error]

func (f StreamFunc[T]) Batches(ctx context.Context) iter.Seq2[MicroBatch[T], error] {
	return f(ctx)
}

// SliceStream turns each slice into a micro-batch of n partitions.
func SliceStream[T any](batches [][]T, n int) Stream[T] {
	return StreamFunc[T](func(ctx context.Context) iter.Seq2[MicroBatch[T], error] {
		return func(yield func(MicroBatch[T], error) bool) {
			for id, items := range batches {
				if err := ctx.Err(); err != nil {
					yield(MicroBatch[T]{}, err)
					return
				}
				if !yield(MicroBatch[T]{ID: int64(id), Data: Parallelize(items, n)}, nil) {
					return
				}
			}
		}
	})
}

// ChannelStream emits one micro-batch of n partitions per slice received
// on ch, until ch is closed or ctx is done.
func ChannelStream[T any](ch <-chan []T, n int) Stream[T] {
	return StreamFunc[T](func(ctx context.Context) iter.Seq2[MicroBatch[T], error] {
		return func(yield func(MicroBatch[T], error) bool) {
			var id int64
			for {
				select {
				case <-ctx.Done():
					yield(MicroBatch[T]{}, ctx.Err())
					return
				case items, ok := <-ch:
					if !ok {
						return
					}
					if !yield(MicroBatch[T]{ID: id, Data: Parallelize(items, n)}, nil) {
						return
					}
					id++
				}
			}
		}
	})
}

// TickerStream groups records from ch into micro-batches of at most
// maxSize records, cutting a batch early when interval passes with records
// buffered. A non-positive interval cuts by size only. The remainder is
// emitted when ch is closed.
func TickerStream[T any](ch <-chan T, maxSize int, interval time.Duration, n int) Stream[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return StreamFunc[T](func(ctx context.Context) iter.Seq2[MicroBatch[T], error] {
		return func(yield func(MicroBatch[T], error) bool) {
			var tick <-chan time.Time
			if interval > 0 {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				tick = ticker.C
			}

			var (
				id  int64
				buf = make([]T, 0, maxSize)
			)
			emit := func() bool {
				if len(buf) == 0 {
					return true
				}
				mb := MicroBatch[T]{ID: id, Data: Parallelize(buf, n)}
				id++
				buf = make([]T, 0, maxSize)
				return yield(mb, nil)
			}

			for {
				select {
				case <-ctx.Done():
					yield(MicroBatch[T]{}, ctx.Err())
					return
				case <-tick:
					if !emit() {
						return
					}
				case v, ok := <-ch:
					if !ok {
						emit()
						return
					}
					buf = append(buf, v)
					if len(buf) == maxSize && !emit() {
						return
					}
				}
			}
		}
	})
}

// ForeachBatch runs fn on every micro-batch in order. It stops at the first
// error.
func ForeachBatch[T any](ctx context.Context, s Stream[T], fn func(ctx context.Context, mb MicroBatch[T]) error) error {
	for mb, err := range s.Batches(ctx) {
		if err != nil {
			return err
		}
		if err := fn(ctx, mb); err != nil {
			return fmt.Errorf("micro-batch %d: %w", mb.ID, err)
		}
	}
	return nil
}

// TransformStream derives a stream by transforming every micro-batch's data.
func TransformStream[T, U any](s Stream[T], fn func(mb MicroBatch[T]) Dataset[U]) Stream[U] {
	return StreamFunc[U](func(ctx context.Context) iter.Seq2[MicroBatch[U], error] {
		return func(yield func(MicroBatch[U], error) bool) {
			for mb, err := range s.Batches(ctx) {
				if err != nil {
					yield(MicroBatch[U]{}, err)
					return
				}
				if !yield(MicroBatch[U]{ID: mb.ID, Data: fn(mb)}, nil) {
					return
				}
			}
		}
	})
}
