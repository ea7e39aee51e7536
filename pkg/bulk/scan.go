package bulk

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/ankur-anand/kvbulk/pkg/dataset"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
)

// ScanRanges splits spec at the given row keys. Split points outside the
// scan range or repeated are ignored; the result always covers exactly the
// original range, in key order.
func ScanRanges(spec record.Scan, splits [][]byte) []record.Scan {
	points := make([][]byte, 0, len(splits))
	for _, s := range splits {
		if len(s) == 0 || !spec.Contains(s) || bytes.Equal(s, spec.StartRow) {
			continue
		}
		points = append(points, s)
	}
	slices.SortFunc(points, bytes.Compare)
	points = slices.CompactFunc(points, bytes.Equal)

	ranges := make([]record.Scan, 0, len(points)+1)
	start := spec.StartRow
	for _, p := range points {
		r := spec
		r.StartRow, r.StopRow = start, p
		ranges = append(ranges, r)
		start = p
	}
	last := spec
	last.StartRow = start
	return append(ranges, last)
}

// ScanSource reads one table range per partition. Each partition dials its
// own connection through the dialer rather than borrowing from the pool, and
// pages through its range with spec.Caching rows per call.
func ScanSource(cfg kvstore.Config, dialer kvstore.Dialer, table string, spec record.Scan, splits [][]byte) dataset.Dataset[record.KeyedResult] {
	ranges := ScanRanges(spec, splits)
	return dataset.FromFunc(len(ranges), func(ctx context.Context, i int) iter.Seq2[record.KeyedResult, error] {
		return scanRange(ctx, cfg, dialer, table, ranges[i])
	})
}

func scanRange(ctx context.Context, cfg kvstore.Config, dialer kvstore.Dialer, table string, r record.Scan) iter.Seq2[record.KeyedResult, error] {
	return func(yield func(record.KeyedResult, error) bool) {
		conn, err := dialer.Dial(ctx, cfg)
		if err != nil {
			yield(record.KeyedResult{}, fmt.Errorf("scan %s: %w", table, err))
			return
		}
		defer conn.Close()

		tbl, err := conn.Table(ctx, table)
		if err != nil {
			yield(record.KeyedResult{}, fmt.Errorf("scan %s: %w", table, err))
			return
		}
		defer tbl.Close()

		for kr, err := range kvstore.ScanRows(ctx, tbl, r) {
			if !yield(kr, err) || err != nil {
				return
			}
		}
	}
}

// Scan returns a dataset of transform applied to every row of spec, one
// partition per range between split points.
func Scan[V any](c *Client, table string, spec record.Scan, splits [][]byte, transform func(record.KeyedResult) (V, error)) dataset.Dataset[V] {
	return dataset.Map(ScanSource(c.cfg, c.dialer, table, spec, splits), transform)
}
