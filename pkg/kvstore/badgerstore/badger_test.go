package badgerstore

import (
	"context"
	"sync"
	"testing"

	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/kvstoretest"
	"github.com/ankur-anand/kvbulk/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadger_Suite(t *testing.T) {
	cfg := kvstore.Config{Backend: kvstore.BackendBadger, Path: t.TempDir(), NoSync: true}
	conn, err := Dial(context.Background(), cfg)
	require.NoError(t, err, "failed to dial badger")

	kvstoretest.Run(t, conn)
	assert.NoError(t, conn.Close())
}

func TestBadger_TablesDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	conn, err := Dial(ctx, kvstore.Config{Backend: kvstore.BackendBadger, Path: t.TempDir(), NoSync: true})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTable(ctx, "ab"))
	require.NoError(t, conn.CreateTable(ctx, "a"))
	ab, err := conn.Table(ctx, "ab")
	require.NoError(t, err)
	a, err := conn.Table(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, ab.Mutate(ctx, record.NewPut([]byte("r")).Add([]byte("cf"), []byte("q"), []byte("v"))))

	var n int
	for _, err := range kvstore.ScanRows(ctx, a, record.Scan{}) {
		require.NoError(t, err)
		n++
	}
	assert.Zero(t, n)
}

func TestBadger_ConcurrentIncrementsRetryConflicts(t *testing.T) {
	ctx := context.Background()
	conn, err := Dial(ctx, kvstore.Config{Backend: kvstore.BackendBadger, Path: t.TempDir(), NoSync: true})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTable(ctx, "c"))

	const workers, each = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl, err := conn.Table(ctx, "c")
			if !assert.NoError(t, err) {
				return
			}
			defer tbl.Close()
			for i := 0; i < each; i++ {
				assert.NoError(t, tbl.Mutate(ctx, record.NewIncrement([]byte("r")).Add([]byte("cf"), []byte("n"), 1)))
			}
		}()
	}
	wg.Wait()

	tbl, err := conn.Table(ctx, "c")
	require.NoError(t, err)
	res, err := tbl.BatchGet(ctx, []record.Get{{RowKey: []byte("r")}})
	require.NoError(t, err)
	n, err := res[0].Counter([]byte("cf"), []byte("n"))
	require.NoError(t, err)
	assert.Equal(t, int64(workers*each), n)
}
