// Package catalog reads and writes the admin database: the well-known
// database whose realms table enumerates every realm a fleet server hosts.
package catalog

import (
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	"github.com/flockdb/flock/store"
)

// RealmsTable is the enumeration table set up by the fleet server.
const RealmsTable = "realms"

// ErrUnexpectedSchema is returned when the admin database has some schema
// but not the expected realms table shape. Any deviation from the exact
// expected shape is fatal to the scan; we do not guess an alternate schema.
var ErrUnexpectedSchema = errors.New("unexpected schema in admin database")

var dialect = goqu.Dialect("sqlite3")

// Entry is one enumeration row: the server's opaque realm identifier and
// the realm's virtual path.
type Entry struct {
	ID          string
	VirtualPath string
}

// Realms reads the enumeration in server-reported order. An admin database
// with no schema at all is a valid transient state (the server has not yet
// provisioned it) and yields no entries and no error.
func Realms(st *store.Store) ([]Entry, error) {
	names, err := st.TableNames()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		// No schema yet
		return nil, nil
	}

	found := false
	for _, name := range names {
		if name == RealmsTable {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: missing %s table", ErrUnexpectedSchema, RealmsTable)
	}

	cols, err := st.Columns(RealmsTable)
	if err != nil {
		return nil, err
	}
	hasID, hasPath := false, false
	for _, c := range cols {
		switch c {
		case "id":
			hasID = true
		case "path":
			hasPath = true
		}
	}
	if !hasID || !hasPath {
		return nil, fmt.Errorf("%w: %s table missing id or path column", ErrUnexpectedSchema, RealmsTable)
	}

	query, args, err := dialect.From(RealmsTable).
		Select("id", "path").
		Order(goqu.C("rowid").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build realm query: %w", err)
	}

	rows, err := st.DB().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read realm enumeration: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.VirtualPath); err != nil {
			return nil, fmt.Errorf("failed to scan realm row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Manager provisions enumeration rows. It is the server-side half of the
// admin database contract and is also what tests use to simulate a fleet
// server announcing realms.
type Manager struct {
	st *store.Store
}

// NewManager wraps an admin database handle for provisioning.
func NewManager(st *store.Store) *Manager {
	return &Manager{st: st}
}

// CreateRealm announces a realm, creating the enumeration schema on first
// use. Announcing an already-known id is an error.
func (m *Manager) CreateRealm(id, virtualPath string) error {
	if id == "" || virtualPath == "" {
		return fmt.Errorf("realm id and virtual path are required")
	}

	if err := m.ensureSchema(); err != nil {
		return err
	}

	query, args, err := dialect.Insert(RealmsTable).
		Rows(goqu.Record{"id": id, "path": virtualPath}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build realm insert: %w", err)
	}

	if _, err := m.st.DB().Exec(query, args...); err != nil {
		return fmt.Errorf("failed to announce realm %s: %w", id, err)
	}
	return nil
}

func (m *Manager) ensureSchema() error {
	_, err := m.st.DB().Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL
		)
	`, RealmsTable))
	if err != nil {
		return fmt.Errorf("failed to create realm enumeration table: %w", err)
	}
	return nil
}
