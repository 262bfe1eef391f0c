package notifier

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/store"
	"github.com/flockdb/flock/telemetry"
)

// router aggregates per-realm commit signals into Change notifications and
// implements the pause/resume delivery gate. Session commit callbacks for
// different realms may fire concurrently; each touches only its own
// realmState.
type router struct {
	deliver func(Change)
	pool    *store.Pool

	paused atomic.Bool
	states *xsync.MapOf[ListenID, *realmState]
}

// realmState is the delivery bookkeeping for one tracked realm. Everything
// behind mu; the struct is never removed once created.
type realmState struct {
	mu sync.Mutex

	listenID    ListenID
	localPath   string
	virtualPath string

	delivered   bool
	lastVersion uint64
	lastSnap    *store.Snapshot

	pending        bool
	pendingVersion uint64
}

func newRouter(deliver func(Change), pool *store.Pool) *router {
	return &router{
		deliver: deliver,
		pool:    pool,
		states:  xsync.NewMapOf[ListenID, *realmState](),
	}
}

// track registers delivery state for a newly accepted realm.
func (r *router) track(id ListenID, localPath, virtualPath string) {
	r.states.Store(id, &realmState{
		listenID:    id,
		localPath:   localPath,
		virtualPath: virtualPath,
	})
}

// discovered fires the slot's first notification: the realm exists and has,
// at minimum, an empty pending change. Called synchronously from the scan.
func (r *router) discovered(id ListenID) {
	r.signal(id, 0)
}

// committed reacts to a server-side commit on a tracked realm. Runs on the
// session's transport goroutine.
func (r *router) committed(id ListenID, version uint64) {
	r.signal(id, version)
}

func (r *router) signal(id ListenID, version uint64) {
	st, ok := r.states.Load(id)
	if !ok {
		// Commit raced ahead of track(); the next one lands normally.
		log.Warn().Int64("listen_id", int64(id)).Msg("Commit signal for untracked realm")
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if r.paused.Load() {
		r.markPendingLocked(st, version)
		return
	}
	r.deliverLocked(st)
}

func (r *router) markPendingLocked(st *realmState, version uint64) {
	if !st.pending {
		st.pending = true
		telemetry.NotificationsPending.Inc()
	}
	if version > st.pendingVersion {
		st.pendingVersion = version
	}
}

// deliverLocked computes and hands over one aggregated notification for st.
// The first delivery for a slot announces the realm with empty changes; all
// later deliveries carry the diff against the previously delivered state.
func (r *router) deliverLocked(st *realmState) {
	handle, err := r.pool.Get(st.localPath)
	if err != nil {
		log.Error().Err(err).Str("path", st.localPath).Msg("Failed to open replica for delivery")
		r.markPendingLocked(st, st.pendingVersion)
		return
	}
	defer r.pool.Release(handle)

	snap, err := handle.Snapshot()
	if err != nil {
		log.Error().Err(err).Str("path", st.localPath).Msg("Failed to snapshot replica for delivery")
		r.markPendingLocked(st, st.pendingVersion)
		return
	}

	change := Change{
		ListenID:    st.listenID,
		VirtualPath: st.virtualPath,
		New:         snap,
		OldVersion:  st.lastVersion,
		NewVersion:  snap.Version,
		Changes:     map[string]store.TableChanges{},
	}
	if st.delivered {
		change.Old = st.lastSnap
		change.Changes = store.Diff(st.lastSnap, snap)
	}

	if st.pending {
		st.pending = false
		st.pendingVersion = 0
		telemetry.NotificationsPending.Dec()
	}
	st.delivered = true
	st.lastSnap = snap
	st.lastVersion = snap.Version

	telemetry.NotificationsDeliveredTotal.Inc()
	r.deliver(change)
}

// pause defers delivery; commit signals only mark realms pending.
func (r *router) pause() {
	r.paused.Store(true)
}

// resume drains exactly the realms pending at the moment of the call,
// delivering one aggregated notification each before returning. Commits
// landing during the drain stay pending for a later resume (or for their
// own post-resume commit signal).
func (r *router) resume() {
	var pending []*realmState
	r.states.Range(func(_ ListenID, st *realmState) bool {
		st.mu.Lock()
		if st.pending {
			pending = append(pending, st)
		}
		st.mu.Unlock()
		return true
	})

	for _, st := range pending {
		st.mu.Lock()
		if st.pending {
			r.deliverLocked(st)
		}
		st.mu.Unlock()
	}

	r.paused.Store(false)
}

// info returns one realm's last delivered version and pending flag.
func (r *router) info(id ListenID) (uint64, bool) {
	st, ok := r.states.Load(id)
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastVersion, st.pending
}

// hasPending reports whether any tracked realm has an undelivered
// notification.
func (r *router) hasPending() bool {
	found := false
	r.states.Range(func(_ ListenID, st *realmState) bool {
		st.mu.Lock()
		if st.pending {
			found = true
		}
		st.mu.Unlock()
		return !found
	})
	return found
}
