package publisher

import (
	"sort"
	"time"

	"github.com/flockdb/flock/notifier"
)

// FromChange flattens one delivered notification into log events: a
// discovery becomes a single KindDiscovered event, a content change one
// KindChange event per touched table. Table order is deterministic so
// replays produce identical streams.
func FromChange(change notifier.Change, clientID uint64) []Event {
	now := time.Now().UnixMilli()

	if change.Old == nil {
		return []Event{{
			Kind:       KindDiscovered,
			ListenID:   int64(change.ListenID),
			Realm:      change.VirtualPath,
			NewVersion: change.NewVersion,
			ObservedAt: now,
			ClientID:   clientID,
		}}
	}

	tables := make([]string, 0, len(change.Changes))
	for name := range change.Changes {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	events := make([]Event, 0, len(tables))
	for _, name := range tables {
		tc := change.Changes[name]
		events = append(events, Event{
			Kind:             KindChange,
			ListenID:         int64(change.ListenID),
			Realm:            change.VirtualPath,
			Table:            name,
			OldVersion:       change.OldVersion,
			NewVersion:       change.NewVersion,
			Insertions:       tc.Insertions,
			Deletions:        tc.Deletions,
			Modifications:    tc.Modifications,
			ModificationsNew: tc.ModificationsNew,
			ObservedAt:       now,
			ClientID:         clientID,
		})
	}

	return events
}
