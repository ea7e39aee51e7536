package bulk

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

var errConsumerStopped = errors.New("consumer stopped")

// ConditionalSink issues conditional writes one store call at a time. The
// predicate is evaluated per row by the store, so these are never batched.
type ConditionalSink struct {
	Metrics *Metrics
}

// Apply issues one Table.CheckAndMutate per request and hands every
// outcome to emit, which may be nil. The table is closed when Apply returns.
func (s *ConditionalSink) Apply(ctx context.Context, requests iter.Seq2[record.ConditionalMutation, error], table kvstore.Table, emit func(record.Outcome) error) (stats SinkStats, err error) {
	defer func() {
		if cerr := table.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close table %s: %w", table.Name(), cerr)
		}
	}()

	for cm, err := range requests {
		if err != nil {
			return stats, err
		}
		stats.Records++

		start := time.Now()
		applied, err := table.CheckAndMutate(ctx, cm)
		s.Metrics.flush(cm.Kind().String(), 1, start, err)
		if err != nil {
			return stats, fmt.Errorf("%s row %q on %s: %w", cm.Kind(), cm.Row(), table.Name(), err)
		}
		stats.Calls++
		stats.LargestBatch = 1
		if applied {
			stats.Applied++
		}
		s.Metrics.conditional(cm.Kind(), applied)

		if emit != nil {
			if err := emit(record.Outcome{RowKey: cm.Row(), Kind: cm.Kind(), Applied: applied}); err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// Outcomes is Apply as a lazy sequence of outcomes. Requests are issued as
// the sequence is consumed; stopping early leaves the rest unsent.
func (s *ConditionalSink) Outcomes(ctx context.Context, requests iter.Seq2[record.ConditionalMutation, error], table kvstore.Table) iter.Seq2[record.Outcome, error] {
	return func(yield func(record.Outcome, error) bool) {
		_, err := s.Apply(ctx, requests, table, func(o record.Outcome) error {
			if !yield(o, nil) {
				return errConsumerStopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, errConsumerStopped) {
			yield(record.Outcome{}, err)
		}
	}
}
