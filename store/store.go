// Package store is the storage engine boundary for Flock. It opens local
// SQLite replica files, reads committed snapshots, and computes structured
// diffs between two snapshots of the same database.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps one SQLite database file.
type Store struct {
	path string
	db   *sql.DB
}

// Open opens (creating if absent) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	// Force file creation so Version() can read the header
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database at %s: %w", path, err)
	}

	return &Store{path: path, db: db}, nil
}

// Path returns the local file path of the database.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Version returns the database's commit counter. SQLite bumps the file
// change counter (bytes 24-27 of the header, big-endian) on every committed
// write transaction, which gives a monotonic per-file version without
// keeping any extra state.
func (s *Store) Version() (uint64, error) {
	// Checkpoint so header reflects WAL commits
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return 0, fmt.Errorf("failed to checkpoint %s: %w", s.path, err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read header of %s: %w", s.path, err)
	}
	defer f.Close()

	var header [28]byte
	n, err := f.ReadAt(header[:], 0)
	if n < len(header) {
		if err == nil || err == io.EOF {
			// Zero-length file: created but never written
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read header of %s: %w", s.path, err)
	}

	return uint64(binary.BigEndian.Uint32(header[24:28])), nil
}
