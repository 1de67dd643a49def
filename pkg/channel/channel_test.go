package channel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/viewsync/pkg/broadcast"
)

func TestAllocate(t *testing.T) {
	a, b := Allocate(), Allocate()
	assert.NotEqual(t, a, b)
	kind, channel := broadcast.Classify(a)
	assert.Equal(t, broadcast.KindState, kind)
	assert.Equal(t, a, channel)
}

func TestResolve(t *testing.T) {
	s := NewMemorySession()
	first, err := Resolve(s, "")
	require.NoError(t, err)
	again, err := Resolve(s, "")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	linked, err := Resolve(s, "channel-shared")
	require.NoError(t, err)
	assert.Equal(t, "channel-shared", linked)
	after, err := Resolve(s, "")
	require.NoError(t, err)
	assert.Equal(t, "channel-shared", after)
}

func TestBoltSessionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := OpenBoltSession(path)
	require.NoError(t, err)
	_, ok, err := s.Channel()
	require.NoError(t, err)
	assert.False(t, ok)

	channel, err := Resolve(s, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenBoltSession(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Channel()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, channel, got)
}
