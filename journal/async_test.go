package journal

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memJournal struct {
	mu      sync.Mutex
	entries []Entry
	gate    chan struct{}
	err     error
	closed  bool
}

func (m *memJournal) Record(e Entry) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return m.err
}

func (m *memJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memJournal) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestAsyncDrainsOnClose(t *testing.T) {
	t.Parallel()

	inner := &memJournal{}
	a := NewAsync(inner, 16, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Record(Entry{Stage: StageRejected}))
	}
	require.NoError(t, a.Close())

	assert.Equal(t, 10, inner.len())
	assert.True(t, inner.closed)
	assert.Zero(t, a.Dropped())

	// after close, entries are counted as dropped, never panicking
	require.NoError(t, a.Record(Entry{}))
	assert.Equal(t, uint64(1), a.Dropped())
	require.NoError(t, a.Close())
}

func TestAsyncDropsWhenFull(t *testing.T) {
	t.Parallel()

	inner := &memJournal{gate: make(chan struct{})}
	a := NewAsync(inner, 2, nil)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Record(Entry{Stage: StageOpen}))
	}
	assert.Less(t, time.Since(start), time.Second, "Record must not block")

	close(inner.gate)
	require.NoError(t, a.Close())

	// at most one in the worker plus two buffered
	assert.LessOrEqual(t, inner.len(), 3)
	assert.Equal(t, uint64(10-inner.len()), a.Dropped())
}

func TestAsyncCountsSinkFailures(t *testing.T) {
	t.Parallel()

	inner := &memJournal{err: errors.New("disk full")}
	a := NewAsync(inner, 4, nil)
	require.NoError(t, a.Record(Entry{}))
	require.NoError(t, a.Close())
	assert.Equal(t, uint64(1), a.Failed())
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	a, b := &memJournal{}, &memJournal{err: errors.New("boom")}
	m := Multi{a, b}
	err := m.Record(Entry{Stage: StageClosed})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
