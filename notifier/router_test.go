package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockdb/flock/store"
)

func trackRealm(t *testing.T, h *harness, realmID, virtualPath string) *store.Store {
	t.Helper()
	require.NoError(t, h.manager.CreateRealm(realmID, virtualPath))
	require.NoError(t, h.notifier.Scan())
	return h.realmStore(t, realmID)
}

func TestFirstNotificationIgnoresExistingContent(t *testing.T) {
	h := newHarness(t)

	// Content synced before discovery is the slot's baseline, not a change
	require.NoError(t, h.manager.CreateRealm("id", "/name"))
	realm := h.realmStore(t, "id")
	_, err := realm.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)
	_, err = realm.DB().Exec("INSERT INTO object (value) VALUES (1), (2)")
	require.NoError(t, err)

	require.NoError(t, h.notifier.Scan())

	require.Equal(t, 1, h.target.changeCount())
	change := h.target.change(0)
	assert.Nil(t, change.Old)
	assert.True(t, change.Empty())
	require.Contains(t, change.New.Tables, "object")
	assert.Len(t, change.New.Tables["object"].Rows, 2)
}

func TestInsertionDiff(t *testing.T) {
	h := newHarness(t)
	realm := trackRealm(t, h, "id", "/name")

	_, err := realm.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)
	_, err = realm.DB().Exec("INSERT INTO object (value) VALUES (1), (2), (3), (4), (5)")
	require.NoError(t, err)

	h.transport.commit(h.realmURL("/name"), 1)

	require.Equal(t, 2, h.target.changeCount())
	change := h.target.change(1)
	assert.NotNil(t, change.Old)
	assert.False(t, change.Empty())
	require.Contains(t, change.Changes, "object")
	assert.Equal(t, []int{0, 1, 2, 3, 4}, change.Changes["object"].Insertions)
	assert.Empty(t, change.Changes["object"].Deletions)
	assert.Empty(t, change.Changes["object"].Modifications)
	assert.Less(t, change.OldVersion, change.NewVersion)
}

func TestModificationAndDeletionDiff(t *testing.T) {
	h := newHarness(t)
	realm := trackRealm(t, h, "id", "/name")

	_, err := realm.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)
	_, err = realm.DB().Exec("INSERT INTO object (value) VALUES (1), (2), (3), (4), (5)")
	require.NoError(t, err)
	h.transport.commit(h.realmURL("/name"), 1)

	// Rowids 1..5 occupy positions 0..4: touch the fourth, drop the fifth
	_, err = realm.DB().Exec("UPDATE object SET value = 40 WHERE rowid = 4")
	require.NoError(t, err)
	_, err = realm.DB().Exec("DELETE FROM object WHERE rowid = 5")
	require.NoError(t, err)
	h.transport.commit(h.realmURL("/name"), 2)

	require.Equal(t, 3, h.target.changeCount())
	change := h.target.change(2)
	require.Contains(t, change.Changes, "object")
	tc := change.Changes["object"]
	assert.Empty(t, tc.Insertions)
	assert.Equal(t, []int{4}, tc.Deletions)
	assert.Equal(t, []int{3}, tc.Modifications)
	assert.Equal(t, []int{3}, tc.ModificationsNew)
}

func TestPauseAggregatesCommits(t *testing.T) {
	h := newHarness(t)
	realm := trackRealm(t, h, "id", "/name")

	_, err := realm.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)

	h.notifier.Pause()
	assert.False(t, h.notifier.HasPending())

	_, err = realm.DB().Exec("INSERT INTO object (value) VALUES (1)")
	require.NoError(t, err)
	h.transport.commit(h.realmURL("/name"), 1)
	_, err = realm.DB().Exec("INSERT INTO object (value) VALUES (2)")
	require.NoError(t, err)
	h.transport.commit(h.realmURL("/name"), 2)

	// Nothing delivered while paused, but the backlog is visible
	assert.Equal(t, 1, h.target.changeCount())
	assert.True(t, h.notifier.HasPending())

	// Resume hands over one aggregated notification covering both commits
	h.notifier.Resume()
	require.Equal(t, 2, h.target.changeCount())
	change := h.target.change(1)
	require.Contains(t, change.Changes, "object")
	assert.Equal(t, []int{0, 1}, change.Changes["object"].Insertions)
	assert.False(t, h.notifier.HasPending())
}

func TestResumeWithoutPendingIsNoop(t *testing.T) {
	h := newHarness(t)
	trackRealm(t, h, "id", "/name")

	h.notifier.Pause()
	h.notifier.Resume()
	assert.Equal(t, 1, h.target.changeCount())
}

func TestPauseCoversMultipleRealms(t *testing.T) {
	h := newHarness(t)
	first := trackRealm(t, h, "id", "/name")
	second := trackRealm(t, h, "id2", "/name2")

	for _, realm := range []*store.Store{first, second} {
		_, err := realm.DB().Exec("CREATE TABLE object (value INTEGER)")
		require.NoError(t, err)
	}

	h.notifier.Pause()
	_, err := first.DB().Exec("INSERT INTO object (value) VALUES (1)")
	require.NoError(t, err)
	h.transport.commit(h.realmURL("/name"), 1)
	_, err = second.DB().Exec("INSERT INTO object (value) VALUES (1)")
	require.NoError(t, err)
	h.transport.commit(h.realmURL("/name2"), 1)

	assert.Equal(t, 2, h.target.changeCount())
	h.notifier.Resume()
	assert.Equal(t, 4, h.target.changeCount())

	seen := map[string]bool{}
	for i := 2; i < 4; i++ {
		seen[h.target.change(i).VirtualPath] = true
	}
	assert.True(t, seen["/name"])
	assert.True(t, seen["/name2"])
}
