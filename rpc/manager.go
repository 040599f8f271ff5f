package rpc

import (
	"net"
	"net/rpc"
	"sync"

	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
)

// Manager is the implementation of the common.RPCManager interface
// using golang's net/rpc package.
type Manager struct {
	mu           sync.Mutex
	listener     net.Listener
	peers        []*Peer
	disconnected bool
	stopped      bool
}

func NewManager() *Manager {
	return &Manager{}
}

func (manager *Manager) Start(address common.ServerAddress, server common.RPCServer) error {
	rpcServ := rpc.NewServer()
	if err := rpcServ.RegisterName("RPCServer", server); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", string(address))
	if err != nil {
		return err
	}
	manager.mu.Lock()
	if manager.stopped {
		manager.mu.Unlock()
		return listener.Close()
	}
	manager.listener = listener
	manager.mu.Unlock()
	// Accept only returns once the listener is closed, i.e. on Stop.
	rpcServ.Accept(listener)
	return nil
}

// ConnectToPeer returns a lazily-connecting peer handle. No network
// traffic happens until the first actual RPC call.
func (manager *Manager) ConnectToPeer(address common.ServerAddress, id uuid.UUID) (common.RPCServer, error) {
	peer := NewPeer(address, id, manager)
	manager.mu.Lock()
	manager.peers = append(manager.peers, peer)
	manager.mu.Unlock()
	return peer, nil
}

func (manager *Manager) Stop() error {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.stopped = true
	if manager.listener != nil {
		return manager.listener.Close()
	}
	return nil
}

func (manager *Manager) Disconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.disconnected = true
}

func (manager *Manager) Reconnect() {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	manager.disconnected = false
}

func (manager *Manager) isDisconnected() bool {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return manager.disconnected
}
