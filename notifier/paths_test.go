package notifier

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRealmPath(t *testing.T) {
	path := LocalRealmPath("/data", "realm-42")
	assert.Equal(t, filepath.Join("/data", "realms", "realm-42.db"), path)
}

func TestAdminRealmPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "admin.db"), AdminRealmPath("/data"))
}

func TestEnsureRealmsDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureRealmsDir(root))
	assert.DirExists(t, RealmsDir(root))

	// Idempotent
	require.NoError(t, EnsureRealmsDir(root))
}

func TestServerURL(t *testing.T) {
	url, err := ServerURL("realm://server.example.com", "/name")
	require.NoError(t, err)
	assert.Equal(t, "realm://server.example.com/name", url)
}

func TestServerURLStripsQueryAndFragment(t *testing.T) {
	url, err := ServerURL("realm://server.example.com/base?token=abc#frag", "/app/todos")
	require.NoError(t, err)
	assert.Equal(t, "realm://server.example.com/app/todos", url)
}

func TestServerURLNotFilesystem(t *testing.T) {
	// Virtual paths are logical names, not file paths; segments pass
	// through untouched.
	url, err := ServerURL("realm://server.example.com", "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "realm://server.example.com/a/b/c", url)
}
