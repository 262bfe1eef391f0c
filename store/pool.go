package store

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// DefaultPoolSize bounds the number of simultaneously open replica handles.
const DefaultPoolSize = 64

// poolEntry tracks one cached handle. refs counts borrowers; an evicted
// entry stays open until the last borrower releases it.
type poolEntry struct {
	path    string
	store   *Store
	refs    int
	evicted bool
}

// Pool is a bounded cache of open Store handles keyed by file path. Get
// borrows a handle and Release returns it; eviction never closes a handle
// that is still borrowed.
type Pool struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *poolEntry]
	live  map[*Store]*poolEntry
}

// NewPool creates a handle pool. size <= 0 uses DefaultPoolSize.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	p := &Pool{live: make(map[*Store]*poolEntry)}
	// Runs under p.mu: eviction only happens inside Get or Close.
	cache, err := lru.NewWithEvict[string, *poolEntry](size, func(_ string, e *poolEntry) {
		e.evicted = true
		if e.refs == 0 {
			p.closeEntryLocked(e)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store pool: %w", err)
	}
	p.cache = cache
	return p, nil
}

func (p *Pool) closeEntryLocked(e *poolEntry) {
	delete(p.live, e.store)
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Str("path", e.path).Msg("Failed to close store handle")
	}
}

// Get borrows an open handle for path, opening one on first use. Every Get
// must be paired with a Release.
func (p *Pool) Get(path string) (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.cache.Get(path); ok {
		e.refs++
		return e.store, nil
	}

	st, err := Open(path)
	if err != nil {
		return nil, err
	}
	e := &poolEntry{path: path, store: st, refs: 1}
	p.live[st] = e
	// May synchronously evict another entry; the callback leaves borrowed
	// handles open.
	p.cache.Add(path, e)
	return st, nil
}

// Release returns a borrowed handle. An evicted handle closes once its last
// borrower releases it. Releasing a handle the pool does not know is a
// no-op.
func (p *Pool) Release(st *Store) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.live[st]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.evicted && e.refs == 0 {
		p.closeEntryLocked(e)
	}
}

// Close closes every handle, borrowed or not. Callers must not use borrowed
// handles after Close.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.Purge()
	for _, e := range p.live {
		p.closeEntryLocked(e)
	}
}
