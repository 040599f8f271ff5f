package persistent_test

import (
	"path/filepath"
	"testing"

	"github.com/clusterlog/raft/common"
	"github.com/clusterlog/raft/persistent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStore_Create(t *testing.T) {
	_, err := persistent.CreateDbLogStore(filepath.Join(t.TempDir(), "log.db"))
	assert.NoError(t, err)
}

func TestLogStore_Append(t *testing.T) {
	store, err := persistent.CreateDbLogStore(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)

	err = store.Append(common.LogEntry{Index: 0, Term: 0})
	assert.NoError(t, err, "failed to append to empty log")

	err = store.Append(common.LogEntry{Index: 1, Term: 0})
	assert.NoError(t, err, "failed to append to non-empty log")

	// Overwriting an existing index is allowed (log repair).
	err = store.Append(common.LogEntry{Index: 0, Term: 0})
	assert.NoError(t, err, "failed to overwrite existing index")

	// Appending past the end must not leave a hole.
	err = store.Append(common.LogEntry{Index: 69, Term: 0})
	assert.Error(t, err, "allowed discontinuous append")

	// A batch is appended atomically.
	err = store.Append(
		common.LogEntry{Index: 2, Term: 1},
		common.LogEntry{Index: 3, Term: 1},
		common.LogEntry{Index: 4, Term: 1},
	)
	assert.NoError(t, err)
	length, err := store.Length()
	assert.NoError(t, err)
	assert.EqualValues(t, 5, length)
}

func TestLogStore_Get(t *testing.T) {
	store, err := persistent.CreateDbLogStore(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)

	require.NoError(t, store.Append(common.LogEntry{Index: 0, Term: 0, Data: []byte("entry0")}))
	require.NoError(t, store.Append(common.LogEntry{Index: 1, Term: 0, Data: []byte("entry1")}))

	entry, err := store.Get(0)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, entry.Index)
	assert.Equal(t, []byte("entry0"), entry.Data)

	require.NoError(t, store.Append(common.LogEntry{Index: 0, Term: 0, Data: []byte("updated_entry0")}))
	entry, err = store.Get(0)
	assert.NoError(t, err)
	assert.Equal(t, []byte("updated_entry0"), entry.Data)

	_, err = store.Get(69)
	assert.ErrorIs(t, err, common.ErrNotFound)

	last, err := store.GetLast()
	assert.NoError(t, err)
	assert.EqualValues(t, 1, last.Index)
	assert.Equal(t, []byte("entry1"), last.Data)
}

func TestLogStore_TruncateFrom(t *testing.T) {
	store, err := persistent.CreateDbLogStore(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, store.Append(common.LogEntry{Index: i, Term: 1}))
	}

	assert.Error(t, store.TruncateFrom(0), "allowed truncating the sentinel")

	assert.NoError(t, store.TruncateFrom(3))
	length, err := store.Length()
	assert.NoError(t, err)
	assert.EqualValues(t, 3, length)
	_, err = store.Get(3)
	assert.ErrorIs(t, err, common.ErrNotFound)
	entry, err := store.Get(2)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, entry.Index)

	// Truncating past the end is a no-op.
	assert.NoError(t, store.TruncateFrom(42))
	length, err = store.Length()
	assert.NoError(t, err)
	assert.EqualValues(t, 3, length)
}

func TestLogStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	store, err := persistent.CreateDbLogStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(
		common.LogEntry{Index: 0, Term: 0},
		common.LogEntry{Index: 1, Term: 3, Data: []byte("durable")},
	))
	require.NoError(t, store.Close())

	store, err = persistent.CreateDbLogStore(path)
	require.NoError(t, err)
	defer store.Close()
	length, err := store.Length()
	assert.NoError(t, err)
	assert.EqualValues(t, 2, length)
	entry, err := store.Get(1)
	assert.NoError(t, err)
	assert.EqualValues(t, 3, entry.Term)
	assert.Equal(t, []byte("durable"), entry.Data)
}
