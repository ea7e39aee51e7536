package bulk

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

// BatchPolicy says how writes are grouped into store calls. ExactlyOne
// sends every record on its own single-record write; otherwise records are
// submitted in atomic batches of FlushThreshold.
type BatchPolicy struct {
	FlushThreshold int
	ExactlyOne     bool
}

// Immediate is the policy of one single-record write per record.
var Immediate = BatchPolicy{ExactlyOne: true}

// Batched returns a policy flushing every n records.
func Batched(n int) BatchPolicy {
	return BatchPolicy{FlushThreshold: n}
}

// Validate rejects a batched policy without a positive threshold.
func (p BatchPolicy) Validate() error {
	if !p.ExactlyOne && p.FlushThreshold < 1 {
		return fmt.Errorf("%w: flush threshold %d", ErrInvalidBatchPolicy, p.FlushThreshold)
	}
	return nil
}

func (p BatchPolicy) String() string {
	if p.ExactlyOne {
		return "exactly_one"
	}
	return fmt.Sprintf("batch_%d", p.FlushThreshold)
}

// SinkStats summarises what a sink sent to the store for one partition.
type SinkStats struct {
	Records      int
	Calls        int
	LargestBatch int
	// Applied counts conditional writes whose predicate held.
	Applied int
}

func (s SinkStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("records", s.Records),
		slog.Int("calls", s.Calls),
		slog.Int("largest_batch", s.LargestBatch),
		slog.Int("applied", s.Applied),
	)
}

// MutationSink buffers writes and submits them to a table according to a
// BatchPolicy.
type MutationSink struct {
	// Op tags metrics, e.g. "put".
	Op      string
	Metrics *Metrics
	// BeforeFinalFlush runs once the input is exhausted, before the
	// remainder is submitted.
	BeforeFinalFlush func()
}

// Apply drains requests into table. A full buffer is submitted as one
// Table.Batch call; the remainder is submitted when requests ends, and an
// empty remainder makes no call. The table is closed when Apply returns,
// on every path. Batches already submitted are not undone on failure.
func (s *MutationSink) Apply(ctx context.Context, requests iter.Seq2[record.Mutation, error], table kvstore.Table, policy BatchPolicy) (stats SinkStats, err error) {
	defer func() {
		if cerr := table.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close table %s: %w", table.Name(), cerr)
		}
	}()

	if err := policy.Validate(); err != nil {
		return stats, err
	}
	if policy.ExactlyOne {
		return s.applyEach(ctx, requests, table)
	}

	buf := make([]record.Mutation, 0, policy.FlushThreshold)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		start := time.Now()
		err := table.Batch(ctx, buf)
		s.Metrics.flush(s.Op, len(buf), start, err)
		if err != nil {
			return fmt.Errorf("batch of %d to %s: %w", len(buf), table.Name(), err)
		}
		stats.Calls++
		stats.LargestBatch = max(stats.LargestBatch, len(buf))
		// a fresh slice: the store may hold on to the one it was handed.
		buf = make([]record.Mutation, 0, policy.FlushThreshold)
		return nil
	}

	for m, err := range requests {
		if err != nil {
			return stats, err
		}
		buf = append(buf, m)
		stats.Records++
		if len(buf) >= policy.FlushThreshold {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if s.BeforeFinalFlush != nil {
		s.BeforeFinalFlush()
	}
	return stats, flush()
}

func (s *MutationSink) applyEach(ctx context.Context, requests iter.Seq2[record.Mutation, error], table kvstore.Table) (SinkStats, error) {
	var stats SinkStats
	for m, err := range requests {
		if err != nil {
			return stats, err
		}
		stats.Records++
		start := time.Now()
		err := table.Mutate(ctx, m)
		s.Metrics.flush(s.Op, 1, start, err)
		if err != nil {
			return stats, fmt.Errorf("write row %q to %s: %w", m.Row(), table.Name(), err)
		}
		stats.Calls++
		stats.LargestBatch = 1
	}
	if s.BeforeFinalFlush != nil {
		s.BeforeFinalFlush()
	}
	return stats, nil
}
