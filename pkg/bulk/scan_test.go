package bulk

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ankur-anand/kvbulk/pkg/dataset"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/memstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanRanges(t *testing.T) {
	b := func(s string) []byte { return []byte(s) }

	tests := []struct {
		name   string
		spec   record.Scan
		splits [][]byte
		want   [][2]string
	}{
		{
			name: "no splits",
			spec: record.Scan{StartRow: b("b"), StopRow: b("f")},
			want: [][2]string{{"b", "f"}},
		},
		{
			name:   "unsorted, repeated and out of range",
			spec:   record.Scan{StartRow: b("b"), StopRow: b("f")},
			splits: [][]byte{b("d"), b("a"), b("c"), b("d"), b("z"), b("b"), nil},
			want:   [][2]string{{"b", "c"}, {"c", "d"}, {"d", "f"}},
		},
		{
			name:   "open range",
			spec:   record.Scan{},
			splits: [][]byte{b("m")},
			want:   [][2]string{{"", "m"}, {"m", ""}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScanRanges(tc.spec, tc.splits)
			require.Len(t, got, len(tc.want))
			for i, r := range got {
				assert.Equal(t, tc.want[i][0], string(r.StartRow), "range %d start", i)
				assert.Equal(t, tc.want[i][1], string(r.StopRow), "range %d stop", i)
			}
		})
	}
}

func TestScanRanges_KeepsProjectionAndCaching(t *testing.T) {
	spec := record.Scan{Columns: []record.Column{{Family: cf}}, Caching: 7}
	for _, r := range ScanRanges(spec, [][]byte{[]byte("k")}) {
		assert.Equal(t, spec.Columns, r.Columns)
		assert.Equal(t, 7, r.Caching)
	}
}

func TestScan_ReadsEveryRowAcrossSplits(t *testing.T) {
	var dials atomic.Int32
	dialer := kvstore.DialFunc(func(ctx context.Context, cfg kvstore.Config) (kvstore.Connection, error) {
		dials.Add(1)
		return memstore.Dial(ctx, cfg)
	})
	h := newHarness(t, Options{}, WithDialer(dialer))
	h.load(t, seq(20)...)
	acquires := h.pool.Acquires()

	ds := Scan(h.client, testTable, record.Scan{Caching: 3}, [][]byte{rowKey(5), rowKey(12)},
		func(kr record.KeyedResult) (string, error) { return string(kr.Key), nil })
	require.Equal(t, 3, ds.NumPartitions())

	got := collect(t, h, ds)
	want := make([]string, 20)
	for i := range want {
		want[i] = string(rowKey(i))
	}
	assert.Equal(t, want, got)
	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, acquires, h.pool.Acquires(), "scans do not borrow from the pool")
}

func TestScan_BoundedRange(t *testing.T) {
	h := newHarness(t, Options{})
	h.load(t, seq(10)...)

	spec := record.Scan{StartRow: rowKey(2), StopRow: rowKey(7)}
	got := collect(t, h, Scan(h.client, testTable, spec, [][]byte{rowKey(4)},
		func(kr record.KeyedResult) (string, error) { return valueOf(kr.Result) }))
	assert.Equal(t, []string{"2", "3", "4", "5", "6"}, got)
}

func TestScan_MissingTable(t *testing.T) {
	h := newHarness(t, Options{})
	ds := Scan(h.client, "missing", record.Scan{}, nil,
		func(kr record.KeyedResult) (record.KeyedResult, error) { return kr, nil })
	_, err := dataset.Collect(h.ctx, h.client.Engine(), ds)
	assert.ErrorIs(t, err, kvstore.ErrTableNotFound)
}
