package notifier

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// AdminVirtualPath is the server-side name of the admin database.
const AdminVirtualPath = "/admin"

// AdminRealmPath returns the local replica path of the admin database.
func AdminRealmPath(rootDir string) string {
	return filepath.Join(rootDir, "admin.db")
}

// RealmsDir returns the directory holding one replica file per tracked realm.
func RealmsDir(rootDir string) string {
	return filepath.Join(rootDir, "realms")
}

// LocalRealmPath maps a server realm id to its local replica path. The
// mapping is deterministic and collision-free: the opaque id plus a fixed
// suffix under the realms directory.
func LocalRealmPath(rootDir, realmID string) string {
	return filepath.Join(RealmsDir(rootDir), realmID+".db")
}

// EnsureRealmsDir creates the realms directory if absent.
func EnsureRealmsDir(rootDir string) error {
	if err := os.MkdirAll(RealmsDir(rootDir), 0755); err != nil {
		return fmt.Errorf("failed to create realms directory: %w", err)
	}
	return nil
}

// ServerURL resolves a realm's virtual path against the server base URL.
// The virtual path is the server's logical name for the database, not a
// file system path; it replaces the base URL's path verbatim, and any query
// or fragment on the base is dropped.
func ServerURL(baseURL, virtualPath string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server base URL %q: %w", baseURL, err)
	}
	u.Path = virtualPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
