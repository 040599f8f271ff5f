package kvstore_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clusterlog/raft/common"
	"github.com/clusterlog/raft/kvstore"
	"github.com/clusterlog/raft/persistent"
	"github.com/clusterlog/raft/raft"
	"github.com/clusterlog/raft/rpc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCluster(t *testing.T, network *rpc.InprocNetwork, n int) (common.ClusterConfig, []*raft.RaftServer) {
	var members []common.Server
	for i := 0; i < n; i++ {
		members = append(members, common.Server{
			ID:         uuid.New(),
			NetAddress: common.ServerAddress(fmt.Sprintf("127.0.0.1:%d", 12345+i)),
		})
	}
	config := common.ClusterConfig{
		Cluster:          members,
		HeartBeatTimeout: 50 * time.Millisecond,
		ElectionTimeout:  200 * time.Millisecond,
	}
	var servers []*raft.RaftServer
	for i := 0; i < n; i++ {
		logstore, err := persistent.CreateDbLogStore(fmt.Sprintf("logstore-%v.db", members[i].ID))
		require.NoError(t, err)
		statestore, err := persistent.CreateDbStateStore(fmt.Sprintf("statestore-%v.db", members[i].ID))
		require.NoError(t, err)
		server := raft.NewRaftServer(members[i], config, kvstore.NewKeyValFSM(), logstore, statestore, network.NewManager())
		require.NotNil(t, server)
		servers = append(servers, server)
	}
	// Wait for a leader and for its heartbeats to propagate so every
	// server can forward client requests.
	assert.Eventually(t, func() bool {
		for _, server := range servers {
			if server.Info().State == raft.Leader {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "no leader elected")
	time.Sleep(5 * config.HeartBeatTimeout)
	return config, servers
}

func cleanupDbFiles() {
	matches, err := filepath.Glob("*.db")
	if err != nil {
		panic(err)
	}
	for _, match := range matches {
		os.Remove(match)
	}
}

func Test_KVStore_SetGet(t *testing.T) {
	t.Cleanup(cleanupDbFiles)
	network := rpc.NewInprocNetwork()
	config, servers := makeCluster(t, network, 3)
	defer func() {
		for _, server := range servers {
			server.Stop()
		}
	}()

	store, err := kvstore.NewKeyValStore(config.Cluster, network.NewManager())
	require.NoError(t, err)

	_, err = store.Set("name", "gopher")
	assert.NoError(t, err)
	_, val, err := store.Get("name")
	assert.NoError(t, err)
	assert.Equal(t, "gopher", val)

	_, _, err = store.Get("unknown")
	assert.Error(t, err)
}

// Retrying a Set with its original UUID must not reapply it over later
// writes.
func Test_KVStore_IdempotentRetry(t *testing.T) {
	t.Cleanup(cleanupDbFiles)
	network := rpc.NewInprocNetwork()
	config, servers := makeCluster(t, network, 3)
	defer func() {
		for _, server := range servers {
			server.Stop()
		}
	}()

	store, err := kvstore.NewKeyValStore(config.Cluster, network.NewManager())
	require.NoError(t, err)

	id, err := store.Set("k", "first")
	require.NoError(t, err)
	_, err = store.Set("k", "second")
	require.NoError(t, err)

	assert.NoError(t, store.SetWithUUID("k", "first", id))
	_, val, err := store.Get("k")
	assert.NoError(t, err)
	assert.Equal(t, "second", val)
}
