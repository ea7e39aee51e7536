package cliapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/ankur-anand/kvbulk/cmd/kvbulk/config"
	"github.com/ankur-anand/kvbulk/internal/output"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/memstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = "users"

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = gofakeit.UUID()
	cfg.Bulk.BatchSize = 3

	rt, err := NewRuntime(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rt.Close()
		memstore.Drop(cfg.Store.Path)
	})
	require.NoError(t, rt.CreateTable(context.Background(), table))
	return rt
}

func loadFile(n int) string {
	var sb strings.Builder
	for i := range n {
		fmt.Fprintf(&sb, `{"row":"u%02d","cells":{"cf:name":"name-%d","cf:lang":"go"}}`+"\n", i, i)
		if i%4 == 0 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func TestReadRows(t *testing.T) {
	rows, err := ReadRows(strings.NewReader(loadFile(5)))
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, LoadRow{Row: "u03", Cells: map[string]string{"cf:name": "name-3", "cf:lang": "go"}}, rows[3])

	_, err = ReadRows(strings.NewReader("{\"row\":\"a\"}\nnot json\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadRows(strings.NewReader(`{"cells":{}}`))
	assert.ErrorIs(t, err, kvstore.ErrInvalidArgument)
}

func TestParseColumn(t *testing.T) {
	col, err := ParseColumn("cf:name")
	require.NoError(t, err)
	assert.Equal(t, record.Column{Family: []byte("cf"), Qualifier: []byte("name")}, col)

	col, err = ParseColumn("cf")
	require.NoError(t, err)
	assert.True(t, col.IsFamily())

	for _, bad := range []string{"", ":name", "cf:"} {
		_, err := ParseColumn(bad)
		assert.ErrorIs(t, err, ErrBadColumn, bad)
	}
}

func TestRuntime_LoadGetScan(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	rows, err := ReadRows(strings.NewReader(loadFile(10)))
	require.NoError(t, err)

	summary, err := rt.Load(ctx, rows, LoadOptions{Table: table, Partitions: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Records)
	assert.Equal(t, 3, summary.Partitions)

	got, err := rt.Get(ctx, table, []string{"u07", "missing", "u01"}, []string{"cf:name"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []output.RowView{
		{Key: "u07", Cells: []output.CellView{{Column: "cf:name", Value: "name-7"}}},
		{Key: "missing", Cells: []output.CellView{}},
		{Key: "u01", Cells: []output.CellView{{Column: "cf:name", Value: "name-1"}}},
	}, got)

	scanned, err := rt.Scan(ctx, ScanOptions{Table: table, Start: "u02", Stop: "u08", Splits: []string{"u05"}, Caching: 2})
	require.NoError(t, err)
	keys := make([]string, len(scanned))
	for i, r := range scanned {
		keys[i] = r.Key
		assert.Len(t, r.Cells, 2)
	}
	assert.Equal(t, []string{"u02", "u03", "u04", "u05", "u06", "u07"}, keys)
}

func TestRuntime_LoadHashPartitioned(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	rows, err := ReadRows(strings.NewReader(loadFile(12)))
	require.NoError(t, err)
	_, err = rt.Load(ctx, rows, LoadOptions{Table: table, Partitions: 4, HashRows: true})
	require.NoError(t, err)

	all, err := rt.Scan(ctx, ScanOptions{Table: table})
	require.NoError(t, err)
	assert.Len(t, all, 12)
}

func TestRuntime_LoadRejectsFamilyOnlyCell(t *testing.T) {
	rt := newRuntime(t)
	rows := []LoadRow{{Row: "a", Cells: map[string]string{"cf": "x"}}}
	_, err := rt.Load(context.Background(), rows, LoadOptions{Table: table})
	assert.ErrorIs(t, err, ErrBadColumn)
}

func TestRuntime_LoadIfAbsent(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	_, err := rt.Load(ctx, []LoadRow{{Row: "a", Cells: map[string]string{"cf:lang": "rust"}}}, LoadOptions{Table: table})
	require.NoError(t, err)

	rows := []LoadRow{
		{Row: "a", Cells: map[string]string{"cf:lang": "go"}},
		{Row: "b", Cells: map[string]string{"cf:lang": "go"}},
	}
	outcomes, err := rt.LoadIfAbsent(ctx, rows, LoadOptions{Table: table, Partitions: 2})
	require.NoError(t, err)
	assert.Equal(t, []output.OutcomeView{
		{Key: "a", Kind: "check_and_put", Applied: false},
		{Key: "b", Kind: "check_and_put", Applied: true},
	}, outcomes)

	got, err := rt.Get(ctx, table, []string{"a"}, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "rust", got[0].Cells[0].Value)
}

func TestRuntime_IncrAndDelete(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()

	keys := []string{"x", "y", "x", "x"}
	summary, err := rt.Incr(ctx, table, "cf:hits", 5, keys, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Records)
	assert.Equal(t, "increment", summary.Op)

	got, err := rt.Get(ctx, table, []string{"x", "y"}, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, output.Bytes(record.EncodeCounter(15)), got[0].Cells[0].Value)
	assert.Equal(t, output.Bytes(record.EncodeCounter(5)), got[1].Cells[0].Value)

	_, err = rt.Incr(ctx, table, "cf", 1, keys, 1)
	assert.ErrorIs(t, err, ErrBadColumn)

	_, err = rt.Delete(ctx, table, []string{"x"}, 1)
	require.NoError(t, err)
	all, err := rt.Scan(ctx, ScanOptions{Table: table})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "y", all[0].Key)
}

func TestRuntime_MissingTable(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.Get(context.Background(), "nope", []string{"a"}, nil, 1)
	assert.ErrorIs(t, err, kvstore.ErrTableNotFound)
}
