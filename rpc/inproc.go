package rpc

import (
	"fmt"
	"sync"

	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
)

// InprocNetwork connects raft servers running in the same process,
// bypassing TCP entirely. Tests use it to build clusters whose network
// partitions are deterministic: the network can be split into groups
// of addresses and healed again, on top of the per-server
// Disconnect/Reconnect that the real manager also supports.
type InprocNetwork struct {
	mu      sync.Mutex
	servers map[common.ServerAddress]common.RPCServer
	group   map[common.ServerAddress]int
}

func NewInprocNetwork() *InprocNetwork {
	return &InprocNetwork{
		servers: make(map[common.ServerAddress]common.RPCServer),
		group:   make(map[common.ServerAddress]int),
	}
}

// NewManager returns the RPCManager handle for one server on this
// network.
func (network *InprocNetwork) NewManager() common.RPCManager {
	return &inprocManager{network: network, stop: make(chan struct{})}
}

// Partition splits the network into the given groups. RPCs are only
// delivered between servers of the same group; addresses not listed
// in any group form an implicit group of their own.
func (network *InprocNetwork) Partition(groups ...[]common.ServerAddress) {
	network.mu.Lock()
	defer network.mu.Unlock()
	network.group = make(map[common.ServerAddress]int)
	for i, group := range groups {
		for _, addr := range group {
			network.group[addr] = i + 1
		}
	}
}

// Heal removes all partitions.
func (network *InprocNetwork) Heal() {
	network.mu.Lock()
	defer network.mu.Unlock()
	network.group = make(map[common.ServerAddress]int)
}

func (network *InprocNetwork) lookup(address common.ServerAddress) (common.RPCServer, bool) {
	network.mu.Lock()
	defer network.mu.Unlock()
	server, ok := network.servers[address]
	return server, ok
}

func (network *InprocNetwork) allowed(from, to common.ServerAddress) bool {
	network.mu.Lock()
	defer network.mu.Unlock()
	return network.group[from] == network.group[to]
}

type inprocManager struct {
	network *InprocNetwork

	mu           sync.Mutex
	address      common.ServerAddress
	disconnected bool

	stop     chan struct{}
	stopOnce sync.Once
}

func (manager *inprocManager) Start(address common.ServerAddress, server common.RPCServer) error {
	manager.network.mu.Lock()
	if _, taken := manager.network.servers[address]; taken {
		manager.network.mu.Unlock()
		return fmt.Errorf("address %s is already in use", address)
	}
	manager.network.servers[address] = server
	manager.network.mu.Unlock()

	manager.mu.Lock()
	manager.address = address
	manager.mu.Unlock()

	<-manager.stop
	return nil
}

func (manager *inprocManager) ConnectToPeer(address common.ServerAddress, id uuid.UUID) (common.RPCServer, error) {
	return &inprocPeer{manager: manager, address: address, id: id}, nil
}

func (manager *inprocManager) Stop() error {
	manager.stopOnce.Do(func() { close(manager.stop) })
	manager.mu.Lock()
	address := manager.address
	manager.mu.Unlock()
	manager.network.mu.Lock()
	delete(manager.network.servers, address)
	manager.network.mu.Unlock()
	return nil
}

func (manager *inprocManager) Disconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.disconnected = true
}

func (manager *inprocManager) Reconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.disconnected = false
}

func (manager *inprocManager) isDisconnected() bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.disconnected
}

func (manager *inprocManager) localAddress() common.ServerAddress {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.address
}

type inprocPeer struct {
	manager *inprocManager
	address common.ServerAddress
	id      uuid.UUID
}

func (peer *inprocPeer) call(invoke func(common.RPCServer) error) error {
	if peer.manager.isDisconnected() {
		return fmt.Errorf("peer %v is disconnected", peer.id)
	}
	network := peer.manager.network
	target, ok := network.lookup(peer.address)
	if !ok {
		return fmt.Errorf("no server at %s", peer.address)
	}
	if from := peer.manager.localAddress(); !network.allowed(from, peer.address) {
		return fmt.Errorf("network partition between %s and %s", from, peer.address)
	}
	return invoke(target)
}

func (peer *inprocPeer) GetID() uuid.UUID {
	return peer.id
}

func (peer *inprocPeer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	return peer.call(func(server common.RPCServer) error {
		return server.ClientRequest(args, result)
	})
}

func (peer *inprocPeer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	return peer.call(func(server common.RPCServer) error {
		return server.RequestVote(args, result)
	})
}

func (peer *inprocPeer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	return peer.call(func(server common.RPCServer) error {
		return server.AppendEntries(args, result)
	})
}
