package bulk

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

// GetPipeline reads the rows named by a partition in batches and converts
// each result.
type GetPipeline[T, U any] struct {
	MakeGet   func(T) (record.Get, error)
	Convert   func(record.Result) (U, error)
	Threshold int
	Metrics   *Metrics
	// BeforeFinalFlush runs once the input is exhausted, before the last
	// partial batch is read.
	BeforeFinalFlush func()
}

// Run consumes all of in, issues one Table.BatchGet per Threshold gets plus
// one for the remainder, and returns the converted results in input order.
// The whole partition's output is held in memory. The table is closed when
// Run returns.
func (g *GetPipeline[T, U]) Run(ctx context.Context, in iter.Seq2[T, error], table kvstore.Table) (out []U, err error) {
	defer func() {
		if cerr := table.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close table %s: %w", table.Name(), cerr)
		}
	}()

	if g.Threshold < 1 {
		return nil, fmt.Errorf("%w: get batch size %d", ErrInvalidBatchPolicy, g.Threshold)
	}

	buf := make([]record.Get, 0, g.Threshold)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		start := time.Now()
		results, err := table.BatchGet(ctx, buf)
		g.Metrics.flush("get", len(buf), start, err)
		if err != nil {
			return fmt.Errorf("batch get of %d from %s: %w", len(buf), table.Name(), err)
		}
		if len(results) != len(buf) {
			return fmt.Errorf("%w: asked for %d rows, got %d", ErrResultCountMismatch, len(buf), len(results))
		}
		for _, res := range results {
			u, err := g.Convert(res)
			if err != nil {
				return fmt.Errorf("convert row %q: %w", res.RowKey, err)
			}
			out = append(out, u)
		}
		buf = make([]record.Get, 0, g.Threshold)
		return nil
	}

	for v, err := range in {
		if err != nil {
			return nil, err
		}
		get, err := g.MakeGet(v)
		if err != nil {
			return nil, err
		}
		buf = append(buf, get)
		if len(buf) >= g.Threshold {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if g.BeforeFinalFlush != nil {
		g.BeforeFinalFlush()
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
