package common

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ServerAddress represents a network address of a raft server (hostname:port)
type ServerAddress string

// Server identifies one member of the raft cluster.
type Server struct {
	ID         uuid.UUID
	NetAddress ServerAddress
}

// LogEntry represents one particular log entry in the raft.
// Entries are immutable once created; Index is strictly increasing
// within a log and index 0 is reserved for the sentinel entry.
type LogEntry struct {
	Index, Term int64
	Data        []byte
}

// ErrNotFound is returned by LogStore implementations when no entry
// exists at the requested index.
var ErrNotFound = errors.New("log entry does not exist")

// ClusterConfig specifies configuration information related to a
// raft cluster. This includes tunable properties of the Raft
// protocol itself such as different timeouts. Cluster membership is
// fixed for the lifetime of the cluster -- reconfiguration is not
// supported.
type ClusterConfig struct {
	Cluster          []Server
	HeartBeatTimeout time.Duration
	ElectionTimeout  time.Duration
}

// QuorumSize returns the majority count for the configured cluster.
func (c ClusterConfig) QuorumSize() int {
	return len(c.Cluster)/2 + 1
}
