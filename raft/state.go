package raft

import "github.com/google/uuid"

type RaftState int

const (
	Follower RaftState = iota
	Candidate
	Leader
)

func (s RaftState) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	}
	return "Unknown"
}

// leaderVolatileState exists only while a server is leader. It is
// created on election win and discarded on any transition out of
// Leader, so stale nextIndex/matchIndex values are never reachable
// from the other roles.
type leaderVolatileState struct {
	// NextIndex is the index of the next log entry to send to each
	// peer, initialized to last log index + 1.
	NextIndex map[uuid.UUID]int64
	// MatchIndex is the highest log index known to be replicated on
	// each peer, initialized to 0.
	MatchIndex map[uuid.UUID]int64
}

type state struct {
	// Term and VotedFor are persisted (via StateStore) before any RPC
	// reply referencing them is sent.
	Term     int64
	VotedFor *uuid.UUID

	// Volatile. CommitIndex is deliberately not persisted: a new
	// leader re-derives it from quorum match indexes rather than
	// inheriting a possibly-stale value.
	State         RaftState
	CurrentLeader *uuid.UUID
	CommitIndex   int64
	AppliedIndex  int64

	// Non-nil iff State == Leader.
	Leader *leaderVolatileState
}
