package raft

import (
	"fmt"
	"log"
	"sync"

	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// ApplyMsg carries the FSM's output for one applied entry back to the
// goroutine waiting on the corresponding client request.
type ApplyMsg struct {
	Err   error
	Bytes []byte
}

// RaftServer is a single member of a raft cluster. All of its state is
// owned by one decision-loop goroutine: RPC handlers, timer
// expirations and client submissions are serialized through the events
// queue and never mutate state concurrently. Outbound RPCs run on
// their own goroutines and deliver replies back into the same queue,
// so the loop never blocks on the network.
type RaftServer struct {
	state

	// Collaborators
	FSM        common.FSM
	LogStore   common.LogStore
	StateStore common.StateStore

	// Peers
	MyID    uuid.UUID
	Peers   []common.RPCServer
	Manager common.RPCManager
	Config  common.ClusterConfig

	// events is the serialized queue feeding the decision loop.
	events chan func()

	// Timer control channels: true resets the timer, false disables it.
	electionTimerChan  chan bool
	heartbeatTimerChan chan bool

	// applyWaiters maps a log index to the channel of the client
	// waiting for that entry to be applied.
	applyWaiters map[int64]chan ApplyMsg

	StopChan chan struct{}
	stopOnce sync.Once

	errMu    sync.Mutex
	fatalErr error

	// Testing primitive: a disconnected server rejects inbound RPCs
	// while its manager fails outbound ones.
	disconnected *atomic.Bool
}

var _ common.RPCServer = &RaftServer{}

func NewRaftServer(
	me common.Server,
	cluster common.ClusterConfig,
	fsm common.FSM,
	logStore common.LogStore,
	stateStore common.StateStore,
	manager common.RPCManager,
) *RaftServer {
	term, votedFor, err := stateStore.GetState()
	if err != nil {
		log.Printf("%v: error loading persisted state: %+v\n", me.ID, err)
		return nil
	}
	server := &RaftServer{
		state: state{
			Term:     term,
			VotedFor: votedFor,
			State:    Follower,
		},
		FSM:        fsm,
		LogStore:   logStore,
		StateStore: stateStore,
		MyID:       me.ID,
		Manager:    manager,
		Config:     cluster,
	}

	// Seed the index-0 sentinel on first boot. An existing log (crash
	// recovery) is left untouched.
	length, err := logStore.Length()
	if err != nil {
		log.Printf("%v: error reading log store: %+v\n", me.ID, err)
		return nil
	}
	if length == 0 {
		if err := logStore.Append(common.LogEntry{Index: 0, Term: 0}); err != nil {
			log.Printf("%v: error initializing log store: %+v\n", me.ID, err)
			return nil
		}
	}

	for _, srv := range cluster.Cluster {
		if srv.ID == me.ID {
			continue
		}
		peer, err := manager.ConnectToPeer(srv.NetAddress, srv.ID)
		if err != nil {
			log.Printf("%v: can't connect to peer %s\n", me.ID, srv.NetAddress)
			return nil
		}
		server.Peers = append(server.Peers, peer)
	}

	server.events = make(chan func(), 64)
	server.electionTimerChan = make(chan bool, 16)
	server.heartbeatTimerChan = make(chan bool, 16)
	server.applyWaiters = make(map[int64]chan ApplyMsg)
	server.StopChan = make(chan struct{})
	server.disconnected = atomic.NewBool(false)

	go server.run()
	go server.electionTimeoutController(cluster.ElectionTimeout)
	go server.heartbeatTimeoutController(cluster.HeartBeatTimeout)
	go func() {
		if err := manager.Start(me.NetAddress, server); err != nil {
			log.Printf("%v: failed to start RPC server: %+v\n", me.ID, err)
		}
	}()
	server.electionTimerChan <- true
	server.heartbeatTimerChan <- false

	log.Printf("%v: initialization complete (term %d)\n", me.ID, term)
	return server
}

// run is the decision loop. It is the only goroutine that touches the
// embedded state.
func (server *RaftServer) run() {
	for {
		select {
		case <-server.StopChan:
			return
		case fn := <-server.events:
			fn()
		}
	}
}

// do runs fn on the decision loop and waits for it to complete. Every
// read or write of server state from outside the loop goes through
// here.
func (server *RaftServer) do(fn func()) error {
	done := make(chan struct{})
	select {
	case server.events <- func() { fn(); close(done) }:
	case <-server.StopChan:
		return ErrServerStopped
	}
	select {
	case <-done:
		return nil
	case <-server.StopChan:
		return ErrServerStopped
	}
}

// enqueue schedules fn on the decision loop without waiting for it.
// Used for RPC replies arriving from peer goroutines and timer ticks.
func (server *RaftServer) enqueue(fn func()) {
	select {
	case server.events <- fn:
	case <-server.StopChan:
	}
}

// fail records a fatal storage error and halts the node. A server must
// not keep operating over possibly-inconsistent durable state, so the
// decision loop is stopped and the error surfaced via Err.
func (server *RaftServer) fail(err error) {
	log.Printf("%v: fatal storage error: %+v\n", server.MyID, err)
	server.errMu.Lock()
	if server.fatalErr == nil {
		server.fatalErr = err
	}
	server.errMu.Unlock()
	server.stopOnce.Do(func() { close(server.StopChan) })
}

// Err reports the fatal storage error that halted the server, if any.
func (server *RaftServer) Err() error {
	server.errMu.Lock()
	defer server.errMu.Unlock()
	return server.fatalErr
}

func (server *RaftServer) GetID() uuid.UUID {
	return server.MyID
}

// Submit proposes a new command for the replicated log. On the leader
// it returns the index and term assigned to the command; on any other
// server it fails with *NotLeaderError carrying a hint to the last
// known leader. A successful Submit does not mean the command is
// committed yet -- commitment requires quorum replication.
func (server *RaftServer) Submit(command []byte) (index, term int64, err error) {
	doErr := server.do(func() {
		if server.State != Leader {
			err = &NotLeaderError{LeaderHint: server.CurrentLeader}
			return
		}
		entry, appendErr := server.appendAsLeader(command)
		if appendErr != nil {
			err = appendErr
			return
		}
		index, term = entry.Index, entry.Term
		server.replicateToAll()
	})
	if doErr != nil {
		err = doErr
	}
	return
}

// ClientRequest handles a client command end-to-end: on the leader it
// appends the command, replicates it, and answers with the FSM output
// once the entry is applied. On a follower that knows the leader the
// request is forwarded; otherwise it fails with a not-leader error.
func (server *RaftServer) ClientRequest(args *common.ClientRequestRPC, result *common.ClientRequestRPCResult) error {
	if server.disconnected.Load() {
		return fmt.Errorf("%v is disconnected", server.MyID)
	}
	var wait chan ApplyMsg
	var forwardTo common.RPCServer
	var leaderErr error
	doErr := server.do(func() {
		switch {
		case server.State == Leader:
			entry, err := server.appendAsLeader(args.Data)
			if err != nil {
				leaderErr = err
				return
			}
			wait = make(chan ApplyMsg, 1)
			server.applyWaiters[entry.Index] = wait
			server.replicateToAll()
		case server.CurrentLeader != nil:
			for _, peer := range server.Peers {
				if peer.GetID() == *server.CurrentLeader {
					forwardTo = peer
					break
				}
			}
		}
	})
	if doErr != nil {
		return doErr
	}
	if leaderErr != nil {
		return leaderErr
	}
	if wait != nil {
		select {
		case msg := <-wait:
			result.Data = msg.Bytes
			if msg.Err != nil {
				result.Success = false
				result.Error = msg.Err.Error()
			} else {
				result.Success = true
			}
			return nil
		case <-server.StopChan:
			return ErrServerStopped
		}
	}
	if forwardTo != nil {
		return forwardTo.ClientRequest(args, result)
	}
	result.Success = false
	result.Error = (&NotLeaderError{}).Error()
	return nil
}

// appendAsLeader assigns the next index to the command and durably
// appends it to the local log. The leader's own log is append-only.
func (server *RaftServer) appendAsLeader(command []byte) (common.LogEntry, error) {
	last, err := server.LogStore.GetLast()
	if err != nil {
		server.fail(err)
		return common.LogEntry{}, err
	}
	entry := common.LogEntry{Index: last.Index + 1, Term: server.Term, Data: command}
	if err := server.LogStore.Append(entry); err != nil {
		server.fail(err)
		return common.LogEntry{}, err
	}
	return entry, nil
}

// persistState durably writes term and vote. It must complete before
// any RPC reply referencing them is released.
func (server *RaftServer) persistState() bool {
	if err := server.StateStore.SetState(server.Term, server.VotedFor); err != nil {
		server.fail(err)
		return false
	}
	return true
}

// adoptTerm implements the single highest-priority rule: any RPC
// traffic carrying a term greater than ours forces this server back to
// Follower in that term with its vote cleared.
func (server *RaftServer) adoptTerm(term int64) {
	server.Term = term
	server.VotedFor = nil
	server.persistState()
	server.convertToFollower()
}

// convertToFollower transitions to the Follower role, dropping any
// leader-only state and failing clients waiting on uncommitted
// entries (they must retry against the new leader).
func (server *RaftServer) convertToFollower() {
	if server.State != Follower {
		log.Printf("%v: converting to follower (term %d)\n", server.MyID, server.Term)
	}
	server.State = Follower
	server.CurrentLeader = nil
	server.Leader = nil
	server.failWaiters(&NotLeaderError{})
	server.electionTimerChan <- true
	server.heartbeatTimerChan <- false
}

func (server *RaftServer) failWaiters(err error) {
	for index, ch := range server.applyWaiters {
		ch <- ApplyMsg{Err: err}
		delete(server.applyWaiters, index)
	}
}

func (server *RaftServer) lastLogEntry() (*common.LogEntry, bool) {
	entry, err := server.LogStore.GetLast()
	if err != nil {
		server.fail(err)
		return nil, false
	}
	return entry, true
}

// Info is a consistent snapshot of a server's externally observable
// state, taken on the decision loop.
type Info struct {
	ID            uuid.UUID
	Term          int64
	State         RaftState
	CommitIndex   int64
	AppliedIndex  int64
	CurrentLeader *uuid.UUID
}

func (server *RaftServer) Info() Info {
	info := Info{ID: server.MyID}
	server.do(func() {
		info.Term = server.Term
		info.State = server.State
		info.CommitIndex = server.CommitIndex
		info.AppliedIndex = server.AppliedIndex
		if server.CurrentLeader != nil {
			leader := *server.CurrentLeader
			info.CurrentLeader = &leader
		}
	})
	return info
}

// Stop permanently shuts down the server and closes its collaborators.
// Any call made on a stopped server returns ErrServerStopped.
func (server *RaftServer) Stop() error {
	server.stopOnce.Do(func() { close(server.StopChan) })
	managerErr := server.Manager.Stop()
	logErr := server.LogStore.Close()
	stateErr := server.StateStore.Close()
	log.Printf("%v: shut down\n", server.MyID)
	return multierr.Combine(managerErr, logErr, stateErr)
}

// Disconnect creates an artificial network partition isolating this
// server from its peers (bi-directional). The underlying network still
// works; the implementations are simply aware of the disconnect and
// fail such calls. Reconnect heals the partition.
func (server *RaftServer) Disconnect() {
	server.disconnected.Store(true)
	server.Manager.Disconnect()
}

func (server *RaftServer) Reconnect() {
	server.disconnected.Store(false)
	server.Manager.Reconnect()
}
