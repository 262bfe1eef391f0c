package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/store"
)

// DefaultPollInterval is how often a polling session checks its replica.
const DefaultPollInterval = 100 * time.Millisecond

// PollTransport watches local replica files for version advances instead of
// listening to a server. It serves single-host deployments where another
// process applies the synced writes, and it is the transport used by most
// of the test suite.
type PollTransport struct {
	Interval time.Duration
}

// NewPollTransport creates a polling transport. interval <= 0 uses
// DefaultPollInterval.
func NewPollTransport(interval time.Duration) *PollTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollTransport{Interval: interval}
}

// CreateSession starts a goroutine polling the replica's commit counter and
// firing OnCommit whenever it advances.
func (t *PollTransport) CreateSession(cfg SessionConfig) (Session, error) {
	st, err := store.Open(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica for polling: %w", err)
	}

	last, err := st.Version()
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &pollSession{
		st:       st,
		interval: t.Interval,
		onCommit: cfg.OnCommit,
		last:     last,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

type pollSession struct {
	st       *store.Store
	interval time.Duration
	onCommit func(version uint64)
	last     uint64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

func (s *pollSession) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			version, err := s.st.Version()
			if err != nil {
				log.Warn().Err(err).Str("path", s.st.Path()).Msg("Failed to poll replica version")
				continue
			}
			if version > s.last {
				s.last = version
				s.onCommit(version)
			}
		}
	}
}

// Close stops the polling goroutine and waits for it, so no commit callback
// fires after Close returns.
func (s *pollSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if err := s.st.Close(); err != nil {
			log.Warn().Err(err).Str("path", s.st.Path()).Msg("Failed to close polled replica")
		}
	})
	return nil
}
