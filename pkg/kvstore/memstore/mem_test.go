package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ankur-anand/kvbulk/internal/cellstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore"
	"github.com/ankur-anand/kvbulk/pkg/kvstore/kvstoretest"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMem_Suite(t *testing.T) {
	name := gofakeit.UUID()
	t.Cleanup(func() { Drop(name) })

	conn, err := Dial(context.Background(), kvstore.Config{Backend: kvstore.BackendMemory, Path: name})
	require.NoError(t, err)
	kvstoretest.Run(t, conn)
	assert.NoError(t, conn.Close())
}

func TestMem_InstanceOutlivesConnections(t *testing.T) {
	ctx := context.Background()
	name := gofakeit.UUID()
	t.Cleanup(func() { Drop(name) })
	cfg := kvstore.Config{Backend: kvstore.BackendMemory, Path: name}

	c1, err := Dial(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, c1.CreateTable(ctx, "t"))
	require.NoError(t, c1.Close())

	c2, err := Dial(ctx, cfg)
	require.NoError(t, err)
	_, err = c2.Table(ctx, "t")
	assert.NoError(t, err)

	Drop(name)
	c3, err := Dial(ctx, cfg)
	require.NoError(t, err)
	_, err = c3.Table(ctx, "t")
	assert.ErrorIs(t, err, kvstore.ErrTableNotFound)
}

func TestMem_FailedUpdateLeavesNoTrace(t *testing.T) {
	e := New()
	require.NoError(t, e.CreateTable("t"))

	boom := errors.New("boom")
	err := e.Update("t", func(tx cellstore.Txn) error {
		require.NoError(t, tx.Put([]byte("k"), []byte("v")))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, e.Len("t"))

	err = e.View("t", func(tx cellstore.Txn) error {
		return tx.Put([]byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, kvstore.ErrInvalidArgument, "view transactions are read-only")
}
