package session

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/encoding"
)

// commitSubjectPrefix is where fleet servers publish commit announcements.
// The database's virtual path maps onto the subject hierarchy below it.
const commitSubjectPrefix = "flock.commits"

// commitMessage is the wire shape of one commit announcement.
type commitMessage struct {
	Version uint64 `msgpack:"v"`
}

// NATSTransport receives commit announcements over a shared NATS
// connection, one subscription per session.
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport connects to the NATS server. The connection retries
// forever; sessions created before the connection is up start receiving
// commits once it establishes.
func NewNATSTransport(natsURL string) (*NATSTransport, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

// CreateSession subscribes to the commit subject for the database named by
// cfg.ServerURL and fires cfg.OnCommit for each announcement.
func (t *NATSTransport) CreateSession(cfg SessionConfig) (Session, error) {
	subject, err := CommitSubject(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	s := &natsSession{onCommit: cfg.OnCommit}
	sub, err := t.nc.Subscribe(subject, s.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub

	log.Debug().Str("subject", subject).Str("path", cfg.LocalPath).Msg("Session subscribed")
	return s, nil
}

// Close closes the shared connection. Sessions must be closed first.
func (t *NATSTransport) Close() {
	t.nc.Close()
}

// CommitSubject maps a server URL to its commit subject: path segments
// become subject tokens under the commit prefix.
func CommitSubject(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("server URL %q has no database path", serverURL)
	}
	return commitSubjectPrefix + "." + strings.ReplaceAll(path, "/", "."), nil
}

type natsSession struct {
	mu       sync.Mutex
	closed   bool
	sub      *nats.Subscription
	onCommit func(version uint64)
}

func (s *natsSession) handle(msg *nats.Msg) {
	var commit commitMessage
	if err := encoding.Unmarshal(msg.Data, &commit); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("Discarding malformed commit announcement")
		return
	}

	// Holding the lock across the callback makes Close wait for in-flight
	// deliveries; no callback runs after Close returns.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onCommit(commit.Version)
}

func (s *natsSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}
