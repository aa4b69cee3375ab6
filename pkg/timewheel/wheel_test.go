package timewheel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFiresAtDeadline(t *testing.T) {
	w := NewWheel()
	fired := false
	e := &TimerEntry{Deadline: 10, Fire: func() { fired = true }}
	w.Insert(e)

	got := w.Poll(9)
	assert.Empty(t, got)
	assert.False(t, fired)

	got = w.Poll(10)
	require.Len(t, got, 1)
	assert.Same(t, e, got[0])
}

func TestRemoveCancelsEntry(t *testing.T) {
	w := NewWheel()
	e := &TimerEntry{Deadline: 5}
	w.Insert(e)
	w.Remove(e)

	got := w.Poll(5)
	assert.Empty(t, got)
	assert.True(t, e.IsElapsed())
}

func TestRemoveAfterFireIsNoop(t *testing.T) {
	w := NewWheel()
	e := &TimerEntry{Deadline: 1}
	w.Insert(e)
	got := w.Poll(1)
	require.Len(t, got, 1)

	w.Remove(e) // must not panic on an already-fired entry
}

func TestCascadeAcrossLevels(t *testing.T) {
	w := NewWheel()
	// A deadline well past level zero's 64-tick range forces insertion
	// into a higher level; polling up to it must still cascade the
	// entry down and fire it exactly once.
	e := &TimerEntry{Deadline: 5000}
	w.Insert(e)
	assert.NotEqual(t, 0, e.level)

	got := w.Poll(5000)
	require.Len(t, got, 1)
	assert.Same(t, e, got[0])
}

func TestManyEntriesAllFireExactlyOnce(t *testing.T) {
	w := NewWheel()
	const n = 500
	entries := make([]*TimerEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = &TimerEntry{Deadline: uint64(i * 7 % 3000)}
		w.Insert(entries[i])
	}

	fired := 0
	for tick := uint64(0); tick <= 3000; tick++ {
		fired += len(w.Poll(tick))
	}
	assert.Equal(t, n, fired)
}

func TestNextExpirationTimeReportsEarliest(t *testing.T) {
	w := NewWheel()
	_, ok := w.NextExpirationTime()
	assert.False(t, ok)

	w.Insert(&TimerEntry{Deadline: 100})
	w.Insert(&TimerEntry{Deadline: 50})

	next, ok := w.NextExpirationTime()
	require.True(t, ok)
	assert.Equal(t, uint64(50), next)
}
