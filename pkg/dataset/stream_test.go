package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatches[T any](t *testing.T, s Stream[T]) [][]T {
	t.Helper()
	e := NewEngine()
	var out [][]T
	err := ForeachBatch(context.Background(), s, func(ctx context.Context, mb MicroBatch[T]) error {
		assert.Equal(t, int64(len(out)), mb.ID, "micro-batch ids are sequential")
		items, err := Collect(ctx, e, mb.Data)
		if err != nil {
			return err
		}
		out = append(out, items)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestChannelStream(t *testing.T) {
	ch := make(chan []int, 3)
	ch <- []int{1, 2, 3}
	ch <- nil
	ch <- []int{4}
	close(ch)

	got := collectBatches(t, ChannelStream(ch, 2))
	want := [][]int{{1, 2, 3}, {}, {4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestTickerStreamCutsBySize(t *testing.T) {
	ch := make(chan int)
	go func() {
		for i := 1; i <= 7; i++ {
			ch <- i
		}
		close(ch)
	}()

	got := collectBatches(t, TickerStream(ch, 3, time.Hour, 1))
	want := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestTickerStreamWithoutIntervalCutsBySize(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		ch := make(chan int)
		go func() {
			for i := 1; i <= 5; i++ {
				ch <- i
			}
			close(ch)
		}()

		got := collectBatches(t, TickerStream(ch, 2, interval, 1))
		want := [][]int{{1, 2}, {3, 4}, {5}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("interval %v: batches mismatch (-want +got):\n%s", interval, diff)
		}
	}
}

func TestTickerStreamCutsByInterval(t *testing.T) {
	ch := make(chan int)
	go func() {
		ch <- 1
		ch <- 2
		time.Sleep(60 * time.Millisecond)
		ch <- 3
		close(ch)
	}()

	got := collectBatches(t, TickerStream(ch, 100, 20*time.Millisecond, 1))
	want := [][]int{{1, 2}, {3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestForeachBatchStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var seen []int64
	err := ForeachBatch(context.Background(), SliceStream([][]int{{1}, {2}, {3}}, 1),
		func(_ context.Context, mb MicroBatch[int]) error {
			seen = append(seen, mb.ID)
			if mb.ID == 1 {
				return boom
			}
			return nil
		})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "micro-batch 1")
	assert.Equal(t, []int64{0, 1}, seen)
}

func TestTransformStream(t *testing.T) {
	s := TransformStream(SliceStream([][]int{{1, 2}, {3}}, 2), func(mb MicroBatch[int]) Dataset[int] {
		return Map(mb.Data, func(v int) (int, error) { return v * 100, nil })
	})
	got := collectBatches(t, s)
	want := [][]int{{100, 200}, {300}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestChannelStreamStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ForeachBatch(ctx, ChannelStream(make(chan []int), 1), func(context.Context, MicroBatch[int]) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
