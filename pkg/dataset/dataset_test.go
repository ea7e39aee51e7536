package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partitionsOf[T any](t *testing.T, ds Dataset[T]) [][]T {
	t.Helper()
	out := make([][]T, ds.NumPartitions())
	for i := range out {
		for v, err := range ds.Partition(context.Background(), i) {
			require.NoError(t, err)
			out[i] = append(out[i], v)
		}
	}
	return out
}

func TestParallelize(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		n     int
		want  [][]int
	}{
		{"even", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder goes first", []int{1, 2, 3, 4, 5}, 3, [][]int{{1, 2}, {3, 4}, {5}}},
		{"more partitions than items", []int{1}, 3, [][]int{{1}, nil, nil}},
		{"non-positive n", []int{1, 2}, 0, [][]int{{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := partitionsOf(t, Parallelize(tt.items, tt.n))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("partitions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHashPartitionKeepsKeysTogether(t *testing.T) {
	type row struct {
		Key string
		Seq int
	}
	var items []row
	keys := []string{gofakeit.Word(), gofakeit.Word(), gofakeit.Word(), gofakeit.Word()}
	for i := 0; i < 200; i++ {
		items = append(items, row{Key: keys[i%len(keys)], Seq: i})
	}

	ds := HashPartition(items, 5, func(r row) []byte { return []byte(r.Key) })
	parts := partitionsOf(t, ds)

	home := map[string]int{}
	total := 0
	for p, rows := range parts {
		last := -1
		for _, r := range rows {
			if h, ok := home[r.Key]; ok {
				assert.Equal(t, h, p, "key %q split across partitions", r.Key)
			}
			home[r.Key] = p
			assert.Greater(t, r.Seq, last, "input order kept within a partition")
			last = r.Seq
			total++
		}
	}
	assert.Equal(t, len(items), total)
}

func TestMapIsLazyAndStopsOnError(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	ds := Map(FromPartitions([]int{1, 2, 3, 4}), func(v int) (string, error) {
		calls.Add(1)
		if v == 3 {
			return "", boom
		}
		return fmt.Sprint(v * 10), nil
	})
	assert.Zero(t, calls.Load(), "nothing runs before a partition is pulled")

	var got []string
	var gotErr error
	for v, err := range ds.Partition(context.Background(), 0) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []string{"10", "20"}, got)
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCollectAndCount(t *testing.T) {
	e := NewEngine(WithParallelism(3))
	ds := MapPartitions(Parallelize([]int{1, 2, 3, 4, 5, 6, 7}, 4),
		func(_ context.Context, i int, in iter.Seq2[int, error]) iter.Seq2[string, error] {
			return func(yield func(string, error) bool) {
				for v, err := range in {
					if !yield(fmt.Sprintf("p%d:%d", i, v), err) {
						return
					}
				}
			}
		})

	got, err := Collect(context.Background(), e, ds)
	require.NoError(t, err)
	want := []string{"p0:1", "p0:2", "p1:3", "p1:4", "p2:5", "p2:6", "p3:7"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("collect mismatch (-want +got):\n%s", diff)
	}

	n, err := Count(context.Background(), e, ds)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestForeachPartitionRespectsParallelism(t *testing.T) {
	e := NewEngine(WithParallelism(2))
	var running, peak atomic.Int32

	err := ForeachPartition(context.Background(), e, Parallelize(make([]int, 16), 8),
		func(_ context.Context, _ int, part iter.Seq2[int, error]) error {
			cur := running.Add(1)
			defer running.Add(-1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			for range part {
			}
			return nil
		})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestForeachPartitionRetriesFailedPartition(t *testing.T) {
	e := NewEngine(WithMaxAttempts(3), WithRetryInterval(time.Millisecond))
	var mu sync.Mutex
	attempts := map[int]int{}

	err := ForeachPartition(context.Background(), e, Parallelize([]int{1, 2, 3, 4}, 2),
		func(_ context.Context, i int, part iter.Seq2[int, error]) error {
			mu.Lock()
			attempts[i]++
			n := attempts[i]
			mu.Unlock()
			for range part {
			}
			if i == 1 && n < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, map[int]int{0: 1, 1: 3}, attempts)
}

func TestForeachPartitionReportsFailure(t *testing.T) {
	e := NewEngine(WithMaxAttempts(2), WithRetryInterval(time.Millisecond))
	boom := errors.New("boom")

	err := ForeachPartition(context.Background(), e, Parallelize([]int{1, 2}, 2),
		func(_ context.Context, i int, _ iter.Seq2[int, error]) error {
			if i == 1 {
				return boom
			}
			return nil
		})

	var pe *PartitionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Partition)
	assert.Equal(t, 2, pe.Attempts)
	assert.ErrorIs(t, err, boom)
}

func TestForeachPartitionRecoversPanics(t *testing.T) {
	e := NewEngine(WithMaxAttempts(3), WithRetryInterval(time.Millisecond))
	var calls atomic.Int32

	err := ForeachPartition(context.Background(), e, Parallelize([]int{1}, 1),
		func(context.Context, int, iter.Seq2[int, error]) error {
			calls.Add(1)
			panic("bad record")
		})
	assert.ErrorIs(t, err, ErrTaskPanicked)
	assert.Equal(t, int32(1), calls.Load(), "panics are not retried")
}

func TestSliceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []int
	var gotErr error
	for v, err := range Slice(ctx, []int{1, 2, 3}) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, v)
		cancel()
	}
	assert.Equal(t, []int{1}, got)
	assert.ErrorIs(t, gotErr, context.Canceled)
}
