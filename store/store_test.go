package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesFile(t *testing.T) {
	st := openTestStore(t)
	assert.FileExists(t, st.Path())
}

func TestVersionAdvancesOnCommit(t *testing.T) {
	st := openTestStore(t)

	v0, err := st.Version()
	require.NoError(t, err)

	_, err = st.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)

	v1, err := st.Version()
	require.NoError(t, err)
	assert.Greater(t, v1, v0)

	_, err = st.DB().Exec("INSERT INTO object (value) VALUES (1)")
	require.NoError(t, err)

	v2, err := st.Version()
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestSnapshotEmptySchema(t *testing.T) {
	st := openTestStore(t)

	snap, err := st.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestSnapshotReadsRows(t *testing.T) {
	st := openTestStore(t)

	_, err := st.DB().Exec("CREATE TABLE object (value INTEGER, name TEXT)")
	require.NoError(t, err)
	_, err = st.DB().Exec("INSERT INTO object (value, name) VALUES (1, 'a'), (2, 'b')")
	require.NoError(t, err)

	snap, err := st.Snapshot()
	require.NoError(t, err)
	require.False(t, snap.Empty())

	table := snap.Tables["object"]
	require.NotNil(t, table)
	assert.Equal(t, []string{"value", "name"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, int64(1), table.Rows[0].Values[0])
	assert.Equal(t, "b", table.Rows[1].Values[1])
}

func TestTableNamesSkipsInternal(t *testing.T) {
	st := openTestStore(t)

	_, err := st.DB().Exec("CREATE TABLE b (x INTEGER)")
	require.NoError(t, err)
	_, err = st.DB().Exec("CREATE TABLE a (x INTEGER)")
	require.NoError(t, err)

	names, err := st.TableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestPoolReusesHandles(t *testing.T) {
	pool, err := NewPool(4)
	require.NoError(t, err)
	defer pool.Close()

	path := filepath.Join(t.TempDir(), "pooled.db")
	st1, err := pool.Get(path)
	require.NoError(t, err)
	st2, err := pool.Get(path)
	require.NoError(t, err)
	assert.Same(t, st1, st2)

	pool.Release(st1)
	pool.Release(st2)
}

func TestPoolEvictionClosesUnborrowed(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	dir := t.TempDir()
	st1, err := pool.Get(filepath.Join(dir, "one.db"))
	require.NoError(t, err)
	pool.Release(st1)

	// Released before eviction, so the eviction closes it
	_, err = pool.Get(filepath.Join(dir, "two.db"))
	require.NoError(t, err)
	assert.Error(t, st1.DB().Ping())
}

func TestPoolEvictionDefersCloseUntilRelease(t *testing.T) {
	pool, err := NewPool(1)
	require.NoError(t, err)
	defer pool.Close()

	dir := t.TempDir()
	st1, err := pool.Get(filepath.Join(dir, "one.db"))
	require.NoError(t, err)

	// Evicts st1 while it is still borrowed
	st2, err := pool.Get(filepath.Join(dir, "two.db"))
	require.NoError(t, err)
	defer pool.Release(st2)

	// The borrowed handle keeps working until released
	_, err = st1.Version()
	require.NoError(t, err)

	pool.Release(st1)
	assert.Error(t, st1.DB().Ping())
}

func TestPoolManyBorrowersBeyondSize(t *testing.T) {
	pool, err := NewPool(2)
	require.NoError(t, err)
	defer pool.Close()

	dir := t.TempDir()
	handles := make([]*Store, 0, 6)
	for i := 0; i < 6; i++ {
		st, err := pool.Get(filepath.Join(dir, fmt.Sprintf("realm-%d.db", i)))
		require.NoError(t, err)
		handles = append(handles, st)
	}

	// Every borrowed handle stays usable even though the pool holds only 2
	for _, st := range handles {
		_, err := st.Version()
		require.NoError(t, err)
	}
	for _, st := range handles {
		pool.Release(st)
	}
}
