// Package dataset is a small in-process partitioned collection engine. A
// Dataset is split into partitions, each read through a pull iterator, and
// actions run the partitions concurrently on an Engine.
package dataset

import (
	"context"
	"iter"

	"github.com/cespare/xxhash/v2"
)

// Dataset is a lazily evaluated, partitioned collection.
type Dataset[T any] interface {
	NumPartitions() int
	// Partition returns an iterator over partition i. Each call starts a
	// fresh pass, so a failed partition can be recomputed.
	Partition(ctx context.Context, i int) iter.Seq2[T, error]
}

// PartitionFunc produces the records of one partition.
type PartitionFunc[T any] func(ctx context.Context, i int) iter.Seq2[T, error]

type funcDataset[T any] struct {
	n  int
	fn PartitionFunc[T]
}

func (d funcDataset[T]) NumPartitions() int { return d.n }

func (d funcDataset[T]) Partition(ctx context.Context, i int) iter.Seq2[T, error] {
	return d.fn(ctx, i)
}

// FromFunc returns a dataset of n partitions computed by fn.
func FromFunc[T any](n int, fn PartitionFunc[T]) Dataset[T] {
	return funcDataset[T]{n: n, fn: fn}
}

type sliceDataset[T any] struct {
	parts [][]T
}

func (d sliceDataset[T]) NumPartitions() int { return len(d.parts) }

func (d sliceDataset[T]) Partition(ctx context.Context, i int) iter.Seq2[T, error] {
	return Slice(ctx, d.parts[i])
}

// Slice yields items in order, stopping early with the context error if ctx
// is cancelled.
func Slice[T any](ctx context.Context, items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// FromPartitions returns a dataset with one partition per slice, as given.
func FromPartitions[T any](parts ...[]T) Dataset[T] {
	return sliceDataset[T]{parts: parts}
}

// Parallelize splits items into n contiguous partitions of near-equal size.
// Partitions may be empty when there are fewer items than partitions.
func Parallelize[T any](items []T, n int) Dataset[T] {
	if n < 1 {
		n = 1
	}
	parts := make([][]T, n)
	size, rem := len(items)/n, len(items)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		parts[i] = items[start:end:end]
		start = end
	}
	return sliceDataset[T]{parts: parts}
}

// HashPartition places each item in partition xxhash(key(item)) mod n, so
// equal keys always land in the same partition. Relative order within a
// partition follows the input.
func HashPartition[T any](items []T, n int, key func(T) []byte) Dataset[T] {
	if n < 1 {
		n = 1
	}
	parts := make([][]T, n)
	for _, item := range items {
		p := xxhash.Sum64(key(item)) % uint64(n)
		parts[p] = append(parts[p], item)
	}
	return sliceDataset[T]{parts: parts}
}

// MapPartitions lazily transforms every partition with fn. fn receives the
// parent partition iterator and returns the derived one.
func MapPartitions[T, U any](ds Dataset[T], fn func(ctx context.Context, i int, in iter.Seq2[T, error]) iter.Seq2[U, error]) Dataset[U] {
	return FromFunc(ds.NumPartitions(), func(ctx context.Context, i int) iter.Seq2[U, error] {
		return fn(ctx, i, ds.Partition(ctx, i))
	})
}

// Map lazily applies fn to every record. An fn error ends the partition.
func Map[T, U any](ds Dataset[T], fn func(T) (U, error)) Dataset[U] {
	return MapPartitions(ds, func(_ context.Context, _ int, in iter.Seq2[T, error]) iter.Seq2[U, error] {
		return func(yield func(U, error) bool) {
			for v, err := range in {
				var zero U
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
	})
}
