package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := OpenLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func changeEvent(realm, table string) Event {
	return Event{
		Kind:       KindChange,
		Realm:      realm,
		Table:      table,
		NewVersion: 1,
		Insertions: []int{0, 1},
	}
}

func TestLogAppendAssignsSequences(t *testing.T) {
	l := openTestLog(t)

	events := []Event{changeEvent("/a", "t1"), changeEvent("/a", "t2")}
	require.NoError(t, l.Append(events))
	assert.Equal(t, uint64(1), events[0].SeqNum)
	assert.Equal(t, uint64(2), events[1].SeqNum)

	require.NoError(t, l.Append([]Event{changeEvent("/b", "t1")}))

	read, err := l.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, read, 3)
	assert.Equal(t, uint64(3), read[2].SeqNum)
	assert.Equal(t, "/b", read[2].Realm)
	assert.Equal(t, []int{0, 1}, read[2].Insertions)
}

func TestLogReadFromCursor(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Append([]Event{
		changeEvent("/a", "t1"),
		changeEvent("/a", "t2"),
		changeEvent("/a", "t3"),
	}))

	read, err := l.ReadFrom(2, 10)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, "t3", read[0].Table)

	read, err = l.ReadFrom(3, 10)
	require.NoError(t, err)
	assert.Empty(t, read)

	// Limit caps the batch
	read, err = l.ReadFrom(0, 2)
	require.NoError(t, err)
	assert.Len(t, read, 2)
}

func TestLogCursorsPersist(t *testing.T) {
	dir := t.TempDir()

	l, err := OpenLog(dir)
	require.NoError(t, err)
	require.NoError(t, l.Append([]Event{changeEvent("/a", "t1")}))
	require.NoError(t, l.AdvanceCursor("kafka-main", 1))
	require.NoError(t, l.Close())

	l, err = OpenLog(dir)
	require.NoError(t, err)
	defer l.Close()

	cursor, err := l.Cursor("kafka-main")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cursor)

	// Sequence numbering continues where it left off
	events := []Event{changeEvent("/a", "t2")}
	require.NoError(t, l.Append(events))
	assert.Equal(t, uint64(2), events[0].SeqNum)
}

func TestLogUnknownCursorIsZero(t *testing.T) {
	l := openTestLog(t)

	cursor, err := l.Cursor("nobody")
	require.NoError(t, err)
	assert.Zero(t, cursor)
}

func TestLogCleanupReclaimsTail(t *testing.T) {
	l := openTestLog(t)

	events := make([]Event, 10)
	for i := range events {
		events[i] = changeEvent("/a", "t")
	}
	require.NoError(t, l.Append(events))
	require.NoError(t, l.AdvanceCursor("only-sink", 5))

	l.cleanup()

	read, err := l.ReadFrom(0, 100)
	require.NoError(t, err)
	require.Len(t, read, 5)
	assert.Equal(t, uint64(6), read[0].SeqNum)
}

func TestLogClosedOperationsFail(t *testing.T) {
	l, err := OpenLog(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	require.Error(t, l.Append([]Event{changeEvent("/a", "t")}))
	_, err = l.ReadFrom(0, 1)
	require.Error(t, err)
	require.Error(t, l.AdvanceCursor("s", 1))
	require.Error(t, l.Close())
}
