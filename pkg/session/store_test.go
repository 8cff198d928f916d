package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddGetRemove(t *testing.T) {
	st := NewStore(time.Hour, 5*time.Minute)
	s := newTestSession(t)

	st.Add(s)
	got, err := st.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, st.Count())

	_, err = st.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	st.Remove(s.ID)
	_, err = st.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PruneTerminalAfterGrace(t *testing.T) {
	st := NewStore(time.Hour, 5*time.Minute)
	s := newTestSession(t)
	st.Add(s)
	s.SetState(StateDone)

	// Inside the grace period the session survives.
	assert.Equal(t, 0, st.Prune(time.Now()))
	assert.Equal(t, 1, st.Count())

	assert.Equal(t, 1, st.Prune(time.Now().Add(6*time.Minute)))
	assert.Equal(t, 0, st.Count())
}

func TestStore_PruneOverdueActiveSession(t *testing.T) {
	st := NewStore(time.Hour, 5*time.Minute)
	s := newTestSession(t)
	st.Add(s)
	s.SetState(StateExecuting)

	assert.Equal(t, 0, st.Prune(time.Now()))

	removed := st.Prune(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.True(t, s.Cancelled())
}
