package store

import (
	"fmt"
	"strings"
)

// Row is one table row at a point in time, correlated across snapshots by
// its SQLite rowid.
type Row struct {
	ID     int64
	Values []interface{}
}

// Table is the committed state of one table.
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

// Snapshot is the committed state of every user table in a database.
type Snapshot struct {
	Version uint64
	Tables  map[string]*Table
}

// Empty reports whether the database has no user tables yet. A freshly
// provisioned replica stays empty until its first synced schema arrives.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Tables) == 0
}

// Snapshot reads the current committed state of every user table.
func (s *Store) Snapshot() (*Snapshot, error) {
	version, err := s.Version()
	if err != nil {
		return nil, err
	}

	names, err := s.TableNames()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version: version,
		Tables:  make(map[string]*Table, len(names)),
	}

	for _, name := range names {
		table, err := s.readTable(name)
		if err != nil {
			return nil, err
		}
		snap.Tables[name] = table
	}

	return snap, nil
}

// TableNames lists user tables in deterministic order.
func (s *Store) TableNames() ([]string, error) {
	rows, err := s.db.Query(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Columns lists the column names of a table in declaration order.
func (s *Store) Columns(table string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue interface{}
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (s *Store) readTable(name string) (*Table, error) {
	cols, err := s.Columns(name)
	if err != nil {
		return nil, err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	query := fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid",
		strings.Join(quoted, ", "), quoteIdent(name))
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", name, err)
	}
	defer rows.Close()

	table := &Table{Name: name, Columns: cols}
	for rows.Next() {
		row := Row{Values: make([]interface{}, len(cols))}
		dest := make([]interface{}, len(cols)+1)
		dest[0] = &row.ID
		for i := range row.Values {
			dest[i+1] = &row.Values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", name, err)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
