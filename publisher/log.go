package publisher

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/encoding"
)

// Key prefixes inside the Pebble store
const (
	prefixEvent  = "/events/"  // /events/{16-digit-zero-padded-seq}
	prefixCursor = "/cursors/" // /cursors/{sinkName}
	keyNextSeq   = "/seq"      // uint64, last assigned sequence
)

const (
	memTableSize                = 16 << 20
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	maxConcurrentCompactions    = 2
)

const (
	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // compact the tail every 128 cursor advances
)

var (
	zstdWriter, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdReader, _ = zstd.NewReader(nil)
)

// Log is a Pebble-backed durable event log. Events are appended with
// monotonic sequence numbers and stored as zstd-compressed msgpack; each
// sink keeps its own cursor, and entries below the minimum cursor are
// reclaimed in the background.
type Log struct {
	db *pebble.DB

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	nextSeq atomic.Uint64

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// OpenLog creates or opens the event log at path.
func OpenLog(path string) (*Log, error) {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log at %s: %w", path, err)
	}

	l := &Log{
		db:      db,
		cursors: make(map[string]uint64),
	}

	if err := l.loadNextSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := l.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}

	return l, nil
}

func (l *Log) loadNextSeq() error {
	val, closer, err := l.db.Get([]byte(keyNextSeq))
	if err == pebble.ErrNotFound {
		l.nextSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	l.nextSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (l *Log) loadCursors() error {
	prefix := []byte(prefixCursor)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: length %d", name, len(val))
		}
		l.cursors[name] = binary.LittleEndian.Uint64(val)
		count++
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if count > 0 {
		log.Info().Int("cursors", count).Msg("Loaded event log cursors")
	}
	return nil
}

// Append assigns sequence numbers to the events and writes them in one
// batch. The input slice is updated with the assigned SeqNum values.
func (l *Log) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if l.closed.Load() {
		return fmt.Errorf("event log is closed")
	}

	startSeq := l.nextSeq.Load()
	localSeq := startSeq

	batch := l.db.NewBatch()
	defer batch.Close()

	for i := range events {
		localSeq++
		events[i].SeqNum = localSeq

		raw, err := encoding.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		compressed := zstdWriter.EncodeAll(raw, nil)

		if err := batch.Set([]byte(eventKey(localSeq)), compressed, pebble.Sync); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}

	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, localSeq)
	if err := batch.Set([]byte(keyNextSeq), seqBuf, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	// Publish the new sequence only after the batch is durable
	l.nextSeq.Store(localSeq)
	return nil
}

// ReadFrom returns up to limit events with sequence numbers above cursor.
func (l *Log) ReadFrom(cursor uint64, limit int) ([]Event, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("event log is closed")
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	startKey := []byte(eventKey(cursor + 1))
	prefix := []byte(prefixEvent)

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: startKey,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]Event, 0, limit)
	for iter.SeekGE(startKey); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		raw, err := zstdReader.DecodeAll(val, nil)
		if err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to decompress event")
			continue
		}

		var event Event
		if err := encoding.Unmarshal(raw, &event); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to unmarshal event")
			continue
		}
		events = append(events, event)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	return events, nil
}

// Cursor returns the last sequence number the named sink has processed.
// Unknown sinks start at 0.
func (l *Log) Cursor(sinkName string) (uint64, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("event log is closed")
	}

	l.cursorsMu.RLock()
	cursor, exists := l.cursors[sinkName]
	l.cursorsMu.RUnlock()
	if exists {
		return cursor, nil
	}

	val, closer, err := l.db.Get([]byte(prefixCursor + sinkName))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid cursor value length: %d", len(val))
	}
	cursor = binary.LittleEndian.Uint64(val)

	l.cursorsMu.Lock()
	if existing, exists := l.cursors[sinkName]; exists {
		l.cursorsMu.Unlock()
		return existing, nil
	}
	l.cursors[sinkName] = cursor
	l.cursorsMu.Unlock()

	return cursor, nil
}

// AdvanceCursor records that the named sink has processed all events up to
// and including seq, and periodically reclaims the log tail.
func (l *Log) AdvanceCursor(sinkName string, seq uint64) error {
	if l.closed.Load() {
		return fmt.Errorf("event log is closed")
	}

	l.cursorsMu.Lock()
	l.cursors[sinkName] = seq
	l.cursorsMu.Unlock()

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, seq)
	if err := l.db.Set([]byte(prefixCursor+sinkName), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	if seq&cleanupIntervalMask == 0 {
		if l.cleanupRunning.CompareAndSwap(false, true) {
			l.cleanupWg.Add(1)
			go l.cleanupAsync()
		}
	}
	return nil
}

// cleanup deletes entries every sink has moved past.
func (l *Log) cleanup() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if l.closed.Load() {
		return
	}

	l.cursorsMu.RLock()
	if len(l.cursors) == 0 {
		l.cursorsMu.RUnlock()
		return
	}
	minCursor := uint64(^uint64(0))
	for _, cursor := range l.cursors {
		if cursor < minCursor {
			minCursor = cursor
		}
	}
	l.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	start := []byte(prefixEvent)
	end := []byte(eventKey(minCursor))
	if err := l.db.DeleteRange(start, end, pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to reclaim event log tail")
		return
	}
	log.Debug().Uint64("min_cursor", minCursor).Msg("Reclaimed event log tail")
}

func (l *Log) cleanupAsync() {
	defer l.cleanupWg.Done()
	defer l.cleanupRunning.Store(false)
	l.cleanup()
}

// Close waits for in-flight cleanup and closes the store.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("event log already closed")
	}
	l.cleanupWg.Wait()
	return l.db.Close()
}

func eventKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixEvent, seq)
}

func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
