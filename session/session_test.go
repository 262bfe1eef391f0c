package session

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockdb/flock/store"
)

func TestCommitSubject(t *testing.T) {
	subject, err := CommitSubject("realm://server.example.com/name")
	require.NoError(t, err)
	assert.Equal(t, "flock.commits.name", subject)

	subject, err = CommitSubject("realm://server.example.com/app/todos")
	require.NoError(t, err)
	assert.Equal(t, "flock.commits.app.todos", subject)
}

func TestCommitSubjectRequiresPath(t *testing.T) {
	_, err := CommitSubject("realm://server.example.com")
	require.Error(t, err)

	_, err = CommitSubject("realm://server.example.com/")
	require.Error(t, err)
}

func TestPollSessionFiresOnCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	var fired atomic.Uint64
	transport := NewPollTransport(5 * time.Millisecond)
	sess, err := transport.CreateSession(SessionConfig{
		LocalPath: path,
		ServerURL: "realm://server/name",
		OnCommit:  func(version uint64) { fired.Store(version) },
	})
	require.NoError(t, err)
	defer sess.Close()

	_, err = st.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fired.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPollSessionCloseStopsCallbacks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	var calls atomic.Int64
	transport := NewPollTransport(5 * time.Millisecond)
	sess, err := transport.CreateSession(SessionConfig{
		LocalPath: path,
		OnCommit:  func(uint64) { calls.Add(1) },
	})
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	before := calls.Load()

	_, err = st.DB().Exec("CREATE TABLE object (value INTEGER)")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, calls.Load())

	// Close is idempotent
	require.NoError(t, sess.Close())
}
