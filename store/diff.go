package store

import "bytes"

// TableChanges describes what happened to one table between two snapshots.
// Insertions and ModificationsNew index into the new snapshot's rows;
// Deletions and Modifications index into the old snapshot's rows. The four
// sets are pairwise disjoint within a table.
type TableChanges struct {
	Insertions       []int
	Deletions        []int
	Modifications    []int
	ModificationsNew []int
}

func (c TableChanges) empty() bool {
	return len(c.Insertions) == 0 && len(c.Deletions) == 0 && len(c.Modifications) == 0
}

// Diff compares two snapshots of the same database and reports per-table
// index changes, correlating rows by rowid. Tables with no touched rows are
// absent from the result. A nil old snapshot means everything in new is an
// insertion.
func Diff(old, new *Snapshot) map[string]TableChanges {
	changes := make(map[string]TableChanges)

	for name, newTable := range tablesOf(new) {
		var oldTable *Table
		if old != nil {
			oldTable = old.Tables[name]
		}
		tc := diffTable(oldTable, newTable)
		if !tc.empty() {
			changes[name] = tc
		}
	}

	// Tables dropped between the two snapshots
	for name, oldTable := range tablesOf(old) {
		if new != nil && new.Tables[name] != nil {
			continue
		}
		if len(oldTable.Rows) == 0 {
			continue
		}
		tc := TableChanges{Deletions: make([]int, len(oldTable.Rows))}
		for i := range oldTable.Rows {
			tc.Deletions[i] = i
		}
		changes[name] = tc
	}

	return changes
}

func tablesOf(s *Snapshot) map[string]*Table {
	if s == nil {
		return nil
	}
	return s.Tables
}

func diffTable(old, new *Table) TableChanges {
	var tc TableChanges

	if old == nil {
		for i := range new.Rows {
			tc.Insertions = append(tc.Insertions, i)
		}
		return tc
	}

	oldPos := make(map[int64]int, len(old.Rows))
	for i, row := range old.Rows {
		oldPos[row.ID] = i
	}

	seen := make(map[int64]struct{}, len(new.Rows))
	for newIdx, row := range new.Rows {
		seen[row.ID] = struct{}{}
		oldIdx, ok := oldPos[row.ID]
		if !ok {
			tc.Insertions = append(tc.Insertions, newIdx)
			continue
		}
		if !rowsEqual(old.Rows[oldIdx], row) {
			tc.Modifications = append(tc.Modifications, oldIdx)
			tc.ModificationsNew = append(tc.ModificationsNew, newIdx)
		}
	}

	for oldIdx, row := range old.Rows {
		if _, ok := seen[row.ID]; !ok {
			tc.Deletions = append(tc.Deletions, oldIdx)
		}
	}

	return tc
}

func rowsEqual(a, b Row) bool {
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if !valueEqual(a.Values[i], b.Values[i]) {
			return false
		}
	}
	return true
}

// valueEqual compares two values scanned from SQLite. The driver hands back
// int64, float64, string, []byte, or nil.
func valueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return a == b
}
