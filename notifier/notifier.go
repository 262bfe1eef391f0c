// Package notifier implements fleet-wide change watching: it keeps a
// synchronized replica of the admin database that enumerates every realm a
// server hosts, discovers new realms as they appear, opens one session per
// realm accepted by the application filter, and delivers aggregated change
// notifications per tracked realm.
package notifier

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/catalog"
	"github.com/flockdb/flock/session"
	"github.com/flockdb/flock/store"
	"github.com/flockdb/flock/telemetry"
)

// ErrClosed is returned by operations on a closed notifier.
var ErrClosed = errors.New("notifier is closed")

// Callbacks is the application's side of the notifier contract.
type Callbacks interface {
	// Filter decides whether to track a newly discovered realm, given its
	// virtual path. It is called synchronously from a discovery scan, at
	// most once per realm id unless it returns an error. It must not call
	// back into the notifier.
	Filter(virtualPath string) (bool, error)

	// RealmChanged receives one aggregated notification per delivery. It
	// runs on an arbitrary goroutine: a session's transport goroutine, the
	// scan goroutine (for a slot's first notification), or the caller of
	// Resume. It must not call back into the notifier.
	RealmChanged(change Change)
}

// Options configures a Notifier.
type Options struct {
	// RootDir holds the admin replica and the realms subdirectory.
	RootDir string
	// ServerBaseURL is the fleet server's base URL; virtual paths resolve
	// against it.
	ServerBaseURL string
	// AccessToken is bound to every session the notifier opens.
	AccessToken string
	// HandlePoolSize bounds cached read handles; 0 uses the default.
	HandlePoolSize int
}

// Notifier watches a fleet of server-hosted databases. One scan runs at a
// time; scans and accessors are mutually exclusive on the same instance.
type Notifier struct {
	cb        Callbacks
	transport session.Transport

	rootDir string
	baseURL string
	token   string

	mu     sync.Mutex // serializes scans and accessors
	reg    *listenRegistry
	router *router
	pool   *store.Pool

	adminSession session.Session
	trigger      chan struct{}
	stopCh       chan struct{}
	doneCh       chan struct{}
	started      bool
	closed       bool
}

// New creates a notifier. No callbacks fire until Start is called.
func New(cb Callbacks, transport session.Transport, opts Options) (*Notifier, error) {
	if cb == nil {
		return nil, fmt.Errorf("callbacks are required")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.RootDir == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if opts.ServerBaseURL == "" {
		return nil, fmt.Errorf("server base URL is required")
	}

	if err := EnsureRealmsDir(opts.RootDir); err != nil {
		return nil, err
	}

	pool, err := store.NewPool(opts.HandlePoolSize)
	if err != nil {
		return nil, err
	}

	n := &Notifier{
		cb:        cb,
		transport: transport,
		rootDir:   opts.RootDir,
		baseURL:   opts.ServerBaseURL,
		token:     opts.AccessToken,
		reg:       newListenRegistry(),
		pool:      pool,
		trigger:   make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	n.router = newRouter(cb.RealmChanged, pool)
	return n, nil
}

// Start opens the admin session and begins reacting to admin changes. Each
// admin commit triggers a discovery scan on the notifier's scan goroutine;
// triggers arriving while a scan runs are coalesced into one follow-up scan.
func (n *Notifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.started {
		return fmt.Errorf("notifier already started")
	}

	serverURL, err := ServerURL(n.baseURL, AdminVirtualPath)
	if err != nil {
		return err
	}

	sess, err := n.transport.CreateSession(session.SessionConfig{
		LocalPath:   AdminRealmPath(n.rootDir),
		ServerURL:   serverURL,
		AccessToken: n.token,
		OnCommit:    func(uint64) { n.signalAdminChange() },
	})
	if err != nil {
		return fmt.Errorf("failed to open admin session: %w", err)
	}

	n.adminSession = sess
	n.started = true
	go n.scanLoop()

	// Prime one scan so realms already enumerated before startup are
	// discovered without waiting for the next admin commit.
	n.signalAdminChange()

	log.Info().Str("root", n.rootDir).Str("server", n.baseURL).Msg("Notifier started")
	return nil
}

// signalAdminChange coalesces admin commit callbacks into the scan trigger.
// Non-blocking: if a trigger is already queued, one scan covers both.
func (n *Notifier) signalAdminChange() {
	select {
	case n.trigger <- struct{}{}:
	default:
	}
}

func (n *Notifier) scanLoop() {
	defer close(n.doneCh)

	for {
		select {
		case <-n.stopCh:
			return
		case <-n.trigger:
			if err := n.Scan(); err != nil {
				telemetry.ScanErrorsTotal.Inc()
				log.Error().Err(err).Msg("Discovery scan failed")
			}
		}
	}
}

// Scan runs one discovery pass: re-read the admin enumeration, decide on
// every realm id not yet decided, and open a session for each accepted
// realm. Exposed for applications driving discovery synchronously; the
// background trigger path calls it too. At most one scan runs at a time.
//
// A filter error aborts the remaining rows and leaves that realm id
// undecided, so the next scan offers it to the filter again. Realms already
// accepted in the same pass stay accepted.
func (n *Notifier) Scan() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	telemetry.ScansTotal.Inc()
	start := time.Now()
	defer func() {
		telemetry.ScanDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	return n.scanLocked()
}

func (n *Notifier) scanLocked() error {
	adminStore, err := store.Open(AdminRealmPath(n.rootDir))
	if err != nil {
		return fmt.Errorf("failed to open admin replica: %w", err)
	}
	defer adminStore.Close()

	entries, err := catalog.Realms(adminStore)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if n.reg.isKnown(e.ID) {
			continue
		}

		id := n.reg.reserve()
		// Known before the filter runs: even a crash inside application
		// code cannot offer the same id to the filter twice.
		n.reg.markKnown(e.ID)

		accepted, err := n.cb.Filter(e.VirtualPath)
		if err != nil {
			// Recoverable: forget the id so the next scan retries it.
			n.reg.forget(e.ID)
			return fmt.Errorf("filter failed for %s: %w", e.VirtualPath, err)
		}
		if !accepted {
			telemetry.FilterRejectionsTotal.Inc()
			continue
		}

		if err := n.trackLocked(id, e); err != nil {
			n.reg.forget(e.ID)
			return err
		}

		// Surface the new slot immediately, before any content change.
		n.router.discovered(id)

		log.Info().
			Int64("listen_id", int64(id)).
			Str("realm_id", e.ID).
			Str("path", e.VirtualPath).
			Msg("Tracking realm")
	}

	return nil
}

func (n *Notifier) trackLocked(id ListenID, e catalog.Entry) error {
	localPath := LocalRealmPath(n.rootDir, e.ID)
	serverURL, err := ServerURL(n.baseURL, e.VirtualPath)
	if err != nil {
		return err
	}

	// Track before the session exists so a commit firing immediately after
	// creation finds its delivery state.
	n.router.track(id, localPath, e.VirtualPath)

	listenID := id
	sess, err := n.transport.CreateSession(session.SessionConfig{
		LocalPath:   localPath,
		ServerURL:   serverURL,
		AccessToken: n.token,
		OnCommit:    func(version uint64) { n.router.committed(listenID, version) },
	})
	if err != nil {
		return fmt.Errorf("failed to open session for %s: %w", e.VirtualPath, err)
	}

	n.reg.commit(id, &trackedRealm{
		realmID:     e.ID,
		virtualPath: e.VirtualPath,
		session:     sess,
	})
	telemetry.TrackedRealms.Set(float64(n.reg.size()))
	return nil
}

// RealmName returns the virtual path recorded for a listen slot.
func (n *Notifier) RealmName(id ListenID) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry, ok := n.reg.get(id)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownListenID, id)
	}
	return entry.virtualPath, nil
}

// Realm returns a handle for a tracked realm, or nil while the realm has
// no schema yet. Schema state is re-checked on every call; a realm that was
// empty can become non-empty between calls. The caller owns the returned
// handle and must Close it; it stays valid for however long the caller
// needs it, independent of the notifier's own handle cache.
func (n *Notifier) Realm(id ListenID) (*store.Store, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry, ok := n.reg.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownListenID, id)
	}

	handle, err := store.Open(LocalRealmPath(n.rootDir, entry.realmID))
	if err != nil {
		return nil, err
	}
	names, err := handle.TableNames()
	if err != nil {
		handle.Close()
		return nil, err
	}
	if len(names) == 0 {
		handle.Close()
		return nil, nil
	}
	return handle, nil
}

// TrackedRealm is a point-in-time view of one watch slot, for status
// reporting.
type TrackedRealm struct {
	ListenID    ListenID `json:"listen_id"`
	RealmID     string   `json:"realm_id"`
	VirtualPath string   `json:"virtual_path"`
	LastVersion uint64   `json:"last_version"`
	Pending     bool     `json:"pending"`
}

// Tracked lists every watch slot in listen-identifier order.
func (n *Notifier) Tracked() []TrackedRealm {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]TrackedRealm, 0, n.reg.size())
	for id := ListenID(0); id < n.reg.next; id++ {
		entry, ok := n.reg.get(id)
		if !ok {
			continue
		}
		lastVersion, pending := n.router.info(id)
		out = append(out, TrackedRealm{
			ListenID:    id,
			RealmID:     entry.realmID,
			VirtualPath: entry.virtualPath,
			LastVersion: lastVersion,
			Pending:     pending,
		})
	}
	return out
}

// Pause defers notification delivery. Commit signals arriving while paused
// mark their realm pending instead of delivering.
func (n *Notifier) Pause() {
	n.router.pause()
}

// Resume delivers one aggregated notification for every realm pending at
// the moment of the call, synchronously, before returning. Pause and Resume
// must be externally synchronized if called from multiple goroutines.
func (n *Notifier) Resume() {
	n.router.resume()
}

// HasPending reports whether any tracked realm has an undelivered
// notification.
func (n *Notifier) HasPending() bool {
	return n.router.hasPending()
}

// Close stops discovery, closes every session (admin and realms), and
// releases cached handles. No callback fires after Close returns.
func (n *Notifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	if started {
		close(n.stopCh)
		<-n.doneCh
		if err := n.adminSession.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close admin session")
		}
	}

	n.mu.Lock()
	for id, entry := range n.reg.entries {
		if err := entry.session.Close(); err != nil {
			log.Warn().Err(err).Int64("listen_id", int64(id)).Msg("Failed to close realm session")
		}
	}
	n.mu.Unlock()

	n.pool.Close()
	log.Info().Msg("Notifier stopped")
	return nil
}
