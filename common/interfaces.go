package common

import (
	"github.com/google/uuid"
)

// LogStore is the interface that when implemented can be used as
// a store for storing logs of one raft server. LogStore is responsible
// for guaranteeing persistence of logs across server restarts --
// every mutating method must have durably completed before it returns.
type LogStore interface {
	// Append durably stores the given entries, in order. Appending at
	// an already-occupied index overwrites the existing entry (this
	// only ever happens for uncommitted suffixes). Appending past the
	// end of the log (leaving a hole) is an error.
	Append(entries ...LogEntry) error
	// Get returns the entry at the given index, or ErrNotFound if no
	// entry exists there.
	Get(index int64) (*LogEntry, error)
	// GetLast returns the entry with the highest index (at minimum the
	// index-0 sentinel).
	GetLast() (*LogEntry, error)
	// Length returns the number of entries including the sentinel,
	// i.e. last index + 1.
	Length() (int64, error)
	// TruncateFrom removes the entry at the given index and every
	// entry after it. The sentinel at index 0 cannot be truncated.
	TruncateFrom(index int64) error
	Close() error
}

// StateStore durably persists a raft server's current term and vote.
// Both values are written together, atomically, so that a crash can
// never separate a term from the vote cast in it.
type StateStore interface {
	SetState(term int64, votedFor *uuid.UUID) error
	// GetState returns (0, nil, nil) on a fresh store.
	GetState() (term int64, votedFor *uuid.UUID, err error)
	Close() error
}

// FSM represents a general finite-state machine which has only a single operation -- Apply.
// Apply is invoked once per committed entry, in index order.
type FSM interface {
	Apply(entry LogEntry) ([]byte, error)
}

// RPCServer is the interface exposed by a Raft server
// to outside (including other Raft servers, and clients)
type RPCServer interface {
	GetID() uuid.UUID
	ClientRequest(args *ClientRequestRPC, result *ClientRequestRPCResult) error
	RequestVote(args *RequestVoteRPC, result *RequestVoteRPCResult) error
	AppendEntries(args *AppendEntriesRPC, result *AppendEntriesRPCResult) error
}

// RPCManager abstracts away RPC handling from RPC servers
type RPCManager interface {
	// Start is a blocking call.
	// It starts the RPC server at the given address and blocks forever.
	// Start only returns error if it fails to start the server.
	Start(address ServerAddress, server RPCServer) error
	ConnectToPeer(address ServerAddress, id uuid.UUID) (RPCServer, error)
	// Stop the RPCManager (permanent)
	Stop() error
	// Disconnect disconnects all managed peers
	Disconnect()
	// Reconnect can heal the disconnected managed peers
	Reconnect()
}
