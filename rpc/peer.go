package rpc

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
)

// CallTimeout bounds every RPC call (dialing included). A call that
// exceeds it is reported as an error to the caller, which treats it as
// a non-response and retries on its next periodic trigger.
const CallTimeout = time.Second

// Peer is the implementation of the common.RPCServer interface using
// golang's net/rpc package.
type Peer struct {
	id      uuid.UUID
	address common.ServerAddress
	manager *Manager

	mu     sync.Mutex
	client *rpc.Client
}

// NewPeer creates a Peer instance with lazy initialization. The actual
// RPC connection is not established until an RPC call takes place.
func NewPeer(address common.ServerAddress, id uuid.UUID, manager *Manager) *Peer {
	return &Peer{
		id:      id,
		address: address,
		manager: manager,
	}
}

// call dials lazily, bounds the call with CallTimeout, and retries
// once across transient connection failures (e.g. a connection that
// the remote end has since closed).
func (peer *Peer) call(method string, args interface{}, result interface{}) error {
	if peer.manager != nil && peer.manager.isDisconnected() {
		return fmt.Errorf("peer %v is disconnected", peer.id)
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var client *rpc.Client
		if client, err = peer.getClient(); err != nil {
			continue
		}
		call := client.Go(method, args, result, make(chan *rpc.Call, 1))
		select {
		case <-call.Done:
			err = call.Error
		case <-time.After(CallTimeout):
			err = fmt.Errorf("rpc %s to %s timed out", method, peer.address)
		}
		if err != nil {
			// The connection may be broken; drop it so the next
			// attempt re-dials.
			peer.dropClient(client)
			continue
		}
		return nil
	}
	return err
}

func (peer *Peer) getClient() (*rpc.Client, error) {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.client != nil {
		return peer.client, nil
	}
	conn, err := net.DialTimeout("tcp", string(peer.address), CallTimeout)
	if err != nil {
		return nil, err
	}
	peer.client = rpc.NewClient(conn)
	return peer.client, nil
}

func (peer *Peer) dropClient(client *rpc.Client) {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.client == client && client != nil {
		peer.client.Close()
		peer.client = nil
	}
}

func (peer *Peer) GetID() uuid.UUID {
	return peer.id
}

func (peer *Peer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	return peer.call("RPCServer.ClientRequest", args, result)
}

func (peer *Peer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	return peer.call("RPCServer.RequestVote", args, result)
}

func (peer *Peer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	return peer.call("RPCServer.AppendEntries", args, result)
}
