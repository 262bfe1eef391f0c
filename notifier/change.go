package notifier

import "github.com/flockdb/flock/store"

// Change is one aggregated notification for one tracked realm. It is
// immutable once constructed; ownership passes to the application callback.
type Change struct {
	// ListenID identifies the realm's listen slot.
	ListenID ListenID
	// VirtualPath is the server-side name of the realm.
	VirtualPath string

	// Old is the realm state the previous notification reflected. Nil on
	// the first notification for a slot, which announces the realm itself
	// rather than any content change.
	Old *store.Snapshot
	// New is the realm state this notification reflects.
	New *store.Snapshot

	// OldVersion and NewVersion bound the commits this notification
	// aggregates.
	OldVersion uint64
	NewVersion uint64

	// Changes holds per-table index changes between Old and New. Tables
	// with no touched rows are absent. Empty on the first notification.
	Changes map[string]store.TableChanges
}

// Empty reports whether the notification carries no table changes.
func (c *Change) Empty() bool {
	return len(c.Changes) == 0
}
