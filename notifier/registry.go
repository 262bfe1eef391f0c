package notifier

import (
	"errors"

	"github.com/flockdb/flock/session"
)

// ListenID is the process-lifetime-stable handle the application uses to
// reference a tracked realm. IDs are strictly increasing and never reused
// or reassigned for the lifetime of the notifier.
type ListenID int64

// ErrUnknownListenID is returned by accessors when given an identifier that
// was never issued. Identifiers are never reused, so this indicates caller
// misuse rather than a race.
var ErrUnknownListenID = errors.New("unknown listen identifier")

// trackedRealm is one accepted realm: its server-side identity and the live
// session keeping its replica synchronized. Created once, when discovery
// first accepts the realm; never removed while the notifier is alive.
type trackedRealm struct {
	realmID     string
	virtualPath string
	session     session.Session
}

// listenRegistry maps listen identifiers to tracked realms and remembers
// every server realm id discovery has already decided on, accepted or not.
// All mutation happens under the notifier's scan mutex.
type listenRegistry struct {
	known   map[string]struct{}
	entries map[ListenID]*trackedRealm
	next    ListenID
}

func newListenRegistry() *listenRegistry {
	return &listenRegistry{
		known:   make(map[string]struct{}),
		entries: make(map[ListenID]*trackedRealm),
	}
}

func (r *listenRegistry) isKnown(realmID string) bool {
	_, ok := r.known[realmID]
	return ok
}

func (r *listenRegistry) markKnown(realmID string) {
	r.known[realmID] = struct{}{}
}

// forget undoes markKnown so a realm whose filter call failed is offered to
// the filter again on the next scan.
func (r *listenRegistry) forget(realmID string) {
	delete(r.known, realmID)
}

// reserve returns the identifier the next accepted realm will get, without
// consuming it.
func (r *listenRegistry) reserve() ListenID {
	return r.next
}

// commit records a tracked realm under the reserved identifier and consumes
// it.
func (r *listenRegistry) commit(id ListenID, entry *trackedRealm) {
	r.entries[id] = entry
	r.next++
}

func (r *listenRegistry) get(id ListenID) (*trackedRealm, bool) {
	entry, ok := r.entries[id]
	return entry, ok
}

func (r *listenRegistry) size() int {
	return len(r.entries)
}
