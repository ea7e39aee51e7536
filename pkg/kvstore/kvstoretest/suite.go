// Package kvstoretest holds the behaviour every kvstore backend must share.
// Backend packages run it from their own tests.
package kvstoretest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cf   = []byte("cf")
	colA = []byte("a")
	colB = []byte("b")
	cnt  = []byte("n")
)

type suite struct {
	name    string
	runFunc func(*testing.T, kvstore.Connection)
}

// Run executes every conformance case against conn. Each case works in its
// own freshly created table.
func Run(t *testing.T, conn kvstore.Connection) {
	t.Helper()
	for _, tc := range suites() {
		t.Run(tc.name, func(t *testing.T) {
			tc.runFunc(t, conn)
		})
	}
}

func suites() []suite {
	return []suite{
		{"table_lifecycle", testTableLifecycle},
		{"put_and_get", testPutAndGet},
		{"projection", testProjection},
		{"increment", testIncrement},
		{"delete_granularity", testDeleteGranularity},
		{"batch_sees_own_writes", testBatchSeesOwnWrites},
		{"batch_is_atomic", testBatchIsAtomic},
		{"empty_mutation_rejected", testEmptyMutationRejected},
		{"check_and_put", testCheckAndPut},
		{"check_and_delete", testCheckAndDelete},
		{"scan_pages", testScanPages},
		{"closed_table", testClosedTable},
	}
}

func newTable(t *testing.T, conn kvstore.Connection) kvstore.Table {
	t.Helper()
	name := "t_" + gofakeit.LetterN(12)
	require.NoError(t, conn.CreateTable(context.Background(), name))
	tbl, err := conn.Table(context.Background(), name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

func get(t *testing.T, tbl kvstore.Table, row string, cols ...record.Column) record.Result {
	t.Helper()
	res, err := tbl.BatchGet(context.Background(), []record.Get{{RowKey: []byte(row), Columns: cols}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func testTableLifecycle(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	name := "t_" + gofakeit.LetterN(12)

	_, err := conn.Table(ctx, name)
	assert.ErrorIs(t, err, kvstore.ErrTableNotFound)

	require.NoError(t, conn.CreateTable(ctx, name))
	assert.ErrorIs(t, conn.CreateTable(ctx, name), kvstore.ErrTableExists)

	tbl, err := conn.Table(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, name, tbl.Name())
	assert.NoError(t, tbl.Close())
}

func testPutAndGet(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	require.NoError(t, tbl.Mutate(ctx, record.NewPut([]byte("r1")).Add(cf, colB, []byte("vb")).Add(cf, colA, []byte("va"))))
	require.NoError(t, tbl.Mutate(ctx, record.Put{RowKey: []byte("r2"), Cells: []record.Cell{{Family: cf, Qualifier: colA, Value: []byte{}}}}))

	res, err := tbl.BatchGet(ctx, []record.Get{
		{RowKey: []byte("r2")},
		{RowKey: []byte("missing")},
		{RowKey: []byte("r1")},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, []byte("r2"), res[0].RowKey)
	v, ok := res[0].Value(cf, colA)
	assert.True(t, ok, "empty value must still be stored")
	assert.Empty(t, v)

	assert.True(t, res[1].Empty())

	require.Len(t, res[2].Cells, 2)
	assert.Equal(t, colA, res[2].Cells[0].Qualifier, "cells come back in qualifier order")
	assert.Equal(t, []byte("vb"), res[2].Cells[1].Value)
}

func testProjection(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)
	other := []byte("other")

	require.NoError(t, tbl.Mutate(ctx, record.NewPut([]byte("r")).
		Add(cf, colA, []byte("1")).
		Add(cf, colB, []byte("2")).
		Add(other, colA, []byte("3"))))

	res := get(t, tbl, "r", record.Column{Family: cf, Qualifier: colB})
	require.Len(t, res.Cells, 1)
	assert.Equal(t, []byte("2"), res.Cells[0].Value)

	res = get(t, tbl, "r", record.Column{Family: other})
	require.Len(t, res.Cells, 1)
	assert.Equal(t, []byte("3"), res.Cells[0].Value)
}

func testIncrement(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	for i := 0; i < 5; i++ {
		require.NoError(t, tbl.Mutate(ctx, record.NewIncrement([]byte("c")).Add(cf, cnt, 2)))
	}
	require.NoError(t, tbl.Mutate(ctx, record.NewIncrement([]byte("c")).Add(cf, cnt, -3)))

	n, err := get(t, tbl, "c").Counter(cf, cnt)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, tbl.Mutate(ctx, record.NewPut([]byte("c")).Add(cf, colA, []byte("text"))))
	err = tbl.Mutate(ctx, record.NewIncrement([]byte("c")).Add(cf, colA, 1))
	assert.Error(t, err, "incrementing a non-counter cell must fail")
}

func testDeleteGranularity(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)
	other := []byte("other")

	put := func(row string) {
		require.NoError(t, tbl.Mutate(ctx, record.NewPut([]byte(row)).
			Add(cf, colA, []byte("1")).
			Add(cf, colB, []byte("2")).
			Add(other, colA, []byte("3"))))
	}
	put("cell")
	put("family")
	put("row")
	put("row0")

	require.NoError(t, tbl.Batch(ctx, []record.Mutation{
		record.NewDelete([]byte("cell")).AddColumn(cf, colA),
		record.NewDelete([]byte("family")).AddFamily(cf),
		record.NewDelete([]byte("row")),
	}))

	assert.Len(t, get(t, tbl, "cell").Cells, 2)
	res := get(t, tbl, "family")
	require.Len(t, res.Cells, 1)
	assert.Equal(t, other, res.Cells[0].Family)
	assert.True(t, get(t, tbl, "row").Empty())
	assert.Len(t, get(t, tbl, "row0").Cells, 3, "deleting a row must not touch rows it prefixes")
}

func testBatchSeesOwnWrites(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	require.NoError(t, tbl.Batch(ctx, []record.Mutation{
		record.Put{RowKey: []byte("c"), Cells: []record.Cell{{Family: cf, Qualifier: cnt, Value: record.EncodeCounter(10)}}},
		record.NewIncrement([]byte("c")).Add(cf, cnt, 5),
		record.NewIncrement([]byte("c")).Add(cf, cnt, 5),
	}))

	n, err := get(t, tbl, "c").Counter(cf, cnt)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func testBatchIsAtomic(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	require.NoError(t, tbl.Mutate(ctx, record.NewPut([]byte("bad")).Add(cf, colA, []byte("not-a-counter"))))
	err := tbl.Batch(ctx, []record.Mutation{
		record.NewPut([]byte("good")).Add(cf, colA, []byte("x")),
		record.NewIncrement([]byte("bad")).Add(cf, colA, 1),
	})
	require.Error(t, err)
	assert.True(t, get(t, tbl, "good").Empty(), "a failed batch must not leave partial writes")
}

func testEmptyMutationRejected(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	assert.ErrorIs(t, tbl.Mutate(ctx, record.NewPut([]byte("r"))), kvstore.ErrInvalidArgument)
	assert.ErrorIs(t, tbl.Mutate(ctx, record.NewIncrement([]byte("r"))), kvstore.ErrInvalidArgument)
	assert.NoError(t, tbl.Batch(ctx, nil))
}

func testCheckAndPut(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	absent := record.CheckAndPut{
		Condition: record.Condition{Family: cf, Qualifier: colA},
		Put:       record.Put{RowKey: []byte("r"), Cells: []record.Cell{{Family: cf, Qualifier: colA, Value: []byte("v1")}}},
	}
	applied, err := tbl.CheckAndMutate(ctx, absent)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tbl.CheckAndMutate(ctx, absent)
	require.NoError(t, err)
	assert.False(t, applied, "cell now exists")

	swap := record.CheckAndPut{
		Condition: record.Condition{Family: cf, Qualifier: colA, Expected: []byte("v1")},
		Put:       record.Put{RowKey: []byte("r"), Cells: []record.Cell{{Family: cf, Qualifier: colA, Value: []byte("v2")}}},
	}
	applied, err = tbl.CheckAndMutate(ctx, &swap)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tbl.CheckAndMutate(ctx, swap)
	require.NoError(t, err)
	assert.False(t, applied, "expected value is stale")

	v, _ := get(t, tbl, "r").Value(cf, colA)
	assert.Equal(t, []byte("v2"), v)

	require.NoError(t, tbl.Mutate(ctx, record.Put{RowKey: []byte("e"), Cells: []record.Cell{{Family: cf, Qualifier: colA, Value: []byte{}}}}))
	applied, err = tbl.CheckAndMutate(ctx, record.CheckAndPut{
		Condition: record.Condition{Family: cf, Qualifier: colA, Expected: []byte{}},
		Put:       record.Put{RowKey: []byte("e"), Cells: []record.Cell{{Family: cf, Qualifier: colB, Value: []byte("x")}}},
	})
	require.NoError(t, err)
	assert.True(t, applied, "an empty expected value matches an empty stored value")
}

func testCheckAndDelete(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	require.NoError(t, tbl.Mutate(ctx, record.NewPut([]byte("r")).Add(cf, colA, []byte("lock")).Add(cf, colB, []byte("data"))))

	applied, err := tbl.CheckAndMutate(ctx, record.CheckAndDelete{
		Condition: record.Condition{Family: cf, Qualifier: colA, Expected: []byte("other")},
		Delete:    record.Delete{RowKey: []byte("r")},
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Len(t, get(t, tbl, "r").Cells, 2)

	applied, err = tbl.CheckAndMutate(ctx, record.CheckAndDelete{
		Condition: record.Condition{Family: cf, Qualifier: colA, Expected: []byte("lock")},
		Delete:    record.Delete{RowKey: []byte("r")},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, get(t, tbl, "r").Empty())
}

func testScanPages(t *testing.T, conn kvstore.Connection) {
	ctx := context.Background()
	tbl := newTable(t, conn)

	var ms []record.Mutation
	for i := 0; i < 20; i++ {
		ms = append(ms, record.NewPut([]byte(fmt.Sprintf("row%03d", i))).
			Add(cf, colA, []byte{byte(i)}).
			Add(cf, colB, []byte("x")))
	}
	require.NoError(t, tbl.Batch(ctx, ms))

	spec := record.Scan{
		StartRow: []byte("row005"),
		StopRow:  []byte("row015"),
		Columns:  []record.Column{{Family: cf, Qualifier: colA}},
		Caching:  3,
	}
	var rows []string
	for kr, err := range kvstore.ScanRows(ctx, tbl, spec) {
		require.NoError(t, err)
		require.Len(t, kr.Result.Cells, 1)
		rows = append(rows, string(kr.Key))
	}
	require.Len(t, rows, 10)
	assert.Equal(t, "row005", rows[0])
	assert.Equal(t, "row014", rows[9])

	page, err := tbl.ScanPage(ctx, spec, nil, 4)
	require.NoError(t, err)
	assert.Len(t, page.Rows, 4)
	assert.Equal(t, []byte("row009"), page.Next)

	var all int
	for _, err := range kvstore.ScanRows(ctx, tbl, record.Scan{}) {
		require.NoError(t, err)
		all++
	}
	assert.Equal(t, 20, all)
}

func testClosedTable(t *testing.T, conn kvstore.Connection) {
	tbl := newTable(t, conn)
	require.NoError(t, tbl.Close())

	err := tbl.Mutate(context.Background(), record.NewPut([]byte("r")).Add(cf, colA, []byte("v")))
	assert.True(t, errors.Is(err, kvstore.ErrClosed))
}
