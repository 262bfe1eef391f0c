package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters events by realm virtual path and table name globs
type GlobFilter struct {
	realmGlobs []glob.Glob
	tableGlobs []glob.Glob
}

// NewGlobFilter compiles the given patterns. Empty pattern lists match
// everything.
func NewGlobFilter(realmPatterns, tablePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		realmGlobs: make([]glob.Glob, 0, len(realmPatterns)),
		tableGlobs: make([]glob.Glob, 0, len(tablePatterns)),
	}

	for _, pattern := range realmPatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid realm pattern %q: %w", pattern, err)
		}
		filter.realmGlobs = append(filter.realmGlobs, g)
	}

	for _, pattern := range tablePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		filter.tableGlobs = append(filter.tableGlobs, g)
	}

	return filter, nil
}

// Match returns true if the realm and table match the configured patterns.
// Discovery events carry an empty table and are matched on realm alone.
func (f *GlobFilter) Match(realm, table string) bool {
	realmMatch := len(f.realmGlobs) == 0
	for _, g := range f.realmGlobs {
		if g.Match(realm) {
			realmMatch = true
			break
		}
	}
	if !realmMatch {
		return false
	}

	if table == "" || len(f.tableGlobs) == 0 {
		return true
	}
	for _, g := range f.tableGlobs {
		if g.Match(table) {
			return true
		}
	}
	return false
}
