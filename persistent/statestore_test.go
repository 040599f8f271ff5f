package persistent_test

import (
	"path/filepath"
	"testing"

	"github.com/clusterlog/raft/persistent"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_FreshStoreIsZero(t *testing.T) {
	store, err := persistent.CreateDbStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	term, votedFor, err := store.GetState()
	assert.NoError(t, err)
	assert.EqualValues(t, 0, term)
	assert.Nil(t, votedFor)
}

func TestStateStore_SetGet(t *testing.T) {
	store, err := persistent.CreateDbStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	candidate := uuid.New()
	require.NoError(t, store.SetState(3, &candidate))
	term, votedFor, err := store.GetState()
	assert.NoError(t, err)
	assert.EqualValues(t, 3, term)
	if assert.NotNil(t, votedFor) {
		assert.Equal(t, candidate, *votedFor)
	}

	// Moving to a new term clears the vote.
	require.NoError(t, store.SetState(4, nil))
	term, votedFor, err = store.GetState()
	assert.NoError(t, err)
	assert.EqualValues(t, 4, term)
	assert.Nil(t, votedFor)
}

func TestStateStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := persistent.CreateDbStateStore(path)
	require.NoError(t, err)
	candidate := uuid.New()
	require.NoError(t, store.SetState(7, &candidate))
	require.NoError(t, store.Close())

	store, err = persistent.CreateDbStateStore(path)
	require.NoError(t, err)
	defer store.Close()
	term, votedFor, err := store.GetState()
	assert.NoError(t, err)
	assert.EqualValues(t, 7, term)
	if assert.NotNil(t, votedFor) {
		assert.Equal(t, candidate, *votedFor)
	}
}
