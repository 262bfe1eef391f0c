package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockdb/flock/store"
)

func openAdmin(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRealmsSchemaAbsent(t *testing.T) {
	st := openAdmin(t)

	entries, err := Realms(st)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRealmsServerOrder(t *testing.T) {
	st := openAdmin(t)
	mgr := NewManager(st)

	require.NoError(t, mgr.CreateRealm("id", "/name"))
	require.NoError(t, mgr.CreateRealm("id2", "/name2"))
	require.NoError(t, mgr.CreateRealm("id3", "/name3"))

	entries, err := Realms(st)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{ID: "id", VirtualPath: "/name"}, entries[0])
	assert.Equal(t, Entry{ID: "id2", VirtualPath: "/name2"}, entries[1])
	assert.Equal(t, Entry{ID: "id3", VirtualPath: "/name3"}, entries[2])
}

func TestRealmsMissingTable(t *testing.T) {
	st := openAdmin(t)

	_, err := st.DB().Exec("CREATE TABLE something_else (x INTEGER)")
	require.NoError(t, err)

	_, err = Realms(st)
	require.ErrorIs(t, err, ErrUnexpectedSchema)
}

func TestRealmsMissingColumn(t *testing.T) {
	st := openAdmin(t)

	_, err := st.DB().Exec("CREATE TABLE realms (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	_, err = Realms(st)
	require.ErrorIs(t, err, ErrUnexpectedSchema)
}

func TestCreateRealmDuplicate(t *testing.T) {
	st := openAdmin(t)
	mgr := NewManager(st)

	require.NoError(t, mgr.CreateRealm("id", "/name"))
	require.Error(t, mgr.CreateRealm("id", "/other"))
}

func TestCreateRealmValidation(t *testing.T) {
	st := openAdmin(t)
	mgr := NewManager(st)

	require.Error(t, mgr.CreateRealm("", "/name"))
	require.Error(t, mgr.CreateRealm("id", ""))
}
