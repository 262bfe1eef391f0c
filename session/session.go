// Package session is the synchronization transport boundary. A Session is
// one live synchronized connection to one database on the fleet server; the
// transport's only job is to keep the local replica current and to report
// each server-side commit through the session's callback.
package session

// SessionConfig binds one session to one database.
type SessionConfig struct {
	// LocalPath is the replica file the transport keeps synchronized.
	LocalPath string
	// ServerURL is the fully resolved server-side URL of the database.
	ServerURL string
	// AccessToken is the credential presented to the server.
	AccessToken string
	// OnCommit is invoked with the new server version after every commit
	// applied to the replica. It runs on an arbitrary transport goroutine
	// and invocations for different sessions may overlap. It must not call
	// Session.Close.
	OnCommit func(version uint64)
}

// Session is a live synchronized connection. Close tears the connection
// down; once Close returns, OnCommit will not be invoked again.
type Session interface {
	Close() error
}

// Transport creates sessions. Implementations retry transient network
// failures internally and never give up on a session; a failure surfaces
// only as delayed or absent commit callbacks.
type Transport interface {
	CreateSession(cfg SessionConfig) (Session, error)
}
