package bulk

import (
	"context"

	"github.com/ankur-anand/kvbulk/pkg/dataset"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

// Every streaming operation runs its one-shot counterpart on each
// micro-batch in turn. Connections are borrowed and buffers flushed per
// micro-batch; nothing carries over to the next one.

func StreamBulkPut[T any](ctx context.Context, c *Client, s dataset.Stream[T], table string, fn func(T) (*record.Put, error)) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return BulkPut(ctx, c, mb.Data, table, fn)
	})
}

func StreamBulkIncrement[T any](ctx context.Context, c *Client, s dataset.Stream[T], table string, fn func(T) (*record.Increment, error)) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return BulkIncrement(ctx, c, mb.Data, table, fn)
	})
}

func StreamBulkDelete[T any](ctx context.Context, c *Client, s dataset.Stream[T], table string, fn func(T) (*record.Delete, error)) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return BulkDelete(ctx, c, mb.Data, table, fn)
	})
}

func StreamBulkMutate[T any](ctx context.Context, c *Client, s dataset.Stream[T], table string, policy BatchPolicy, fn func(T) (record.Mutation, error)) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return BulkMutate(ctx, c, mb.Data, table, policy, fn)
	})
}

func StreamBulkCheckAndPut[T any](ctx context.Context, c *Client, s dataset.Stream[T], table string, fn func(T) (record.CheckAndPut, error)) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return BulkCheckAndPut(ctx, c, mb.Data, table, fn)
	})
}

func StreamBulkCheckAndDelete[T any](ctx context.Context, c *Client, s dataset.Stream[T], table string, fn func(T) (record.CheckAndDelete, error)) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return BulkCheckAndDelete(ctx, c, mb.Data, table, fn)
	})
}

// StreamCheckAndPutOutcomes derives a stream of per-record outcomes.
func StreamCheckAndPutOutcomes[T any](c *Client, s dataset.Stream[T], table string, fn func(T) (record.CheckAndPut, error)) dataset.Stream[record.Outcome] {
	return dataset.TransformStream(s, func(mb dataset.MicroBatch[T]) dataset.Dataset[record.Outcome] {
		return CheckAndPutOutcomes(c, mb.Data, table, fn)
	})
}

func StreamCheckAndDeleteOutcomes[T any](c *Client, s dataset.Stream[T], table string, fn func(T) (record.CheckAndDelete, error)) dataset.Stream[record.Outcome] {
	return dataset.TransformStream(s, func(mb dataset.MicroBatch[T]) dataset.Dataset[record.Outcome] {
		return CheckAndDeleteOutcomes(c, mb.Data, table, fn)
	})
}

// StreamBulkGet derives a stream whose micro-batches hold the converted rows
// read for the matching input micro-batch.
func StreamBulkGet[T, U any](c *Client, s dataset.Stream[T], table string, makeGet func(T) (record.Get, error), convert func(record.Result) (U, error)) dataset.Stream[U] {
	return dataset.TransformStream(s, func(mb dataset.MicroBatch[T]) dataset.Dataset[U] {
		return BulkGet(c, mb.Data, table, makeGet, convert)
	})
}

func StreamForeachPartition[T any](ctx context.Context, c *Client, s dataset.Stream[T], fn PartitionFunc[T]) error {
	return dataset.ForeachBatch(ctx, s, func(ctx context.Context, mb dataset.MicroBatch[T]) error {
		return ForeachPartition(ctx, c, mb.Data, fn)
	})
}

func StreamMapPartitions[T, U any](c *Client, s dataset.Stream[T], fn TransformFunc[T, U]) dataset.Stream[U] {
	return dataset.TransformStream(s, func(mb dataset.MicroBatch[T]) dataset.Dataset[U] {
		return MapPartitions(c, mb.Data, fn)
	})
}
