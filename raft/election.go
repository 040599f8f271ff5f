package raft

import (
	"fmt"
	"log"

	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
)

// RequestVote handles the RequestVote RPC from a candidate.
func (server *RaftServer) RequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) error {
	if server.disconnected.Load() {
		return fmt.Errorf("%v is disconnected", server.MyID)
	}
	return server.do(func() { server.handleRequestVote(args, result) })
}

func (server *RaftServer) handleRequestVote(args *common.RequestVoteRPC, result *common.RequestVoteRPCResult) {
	if args.Term > server.Term {
		server.adoptTerm(args.Term)
	}
	result.Term = server.Term
	result.VoteGranted = false

	// Reject stale candidates outright (Section 5.1).
	if args.Term < server.Term {
		return
	}
	// At most one vote per term (Section 5.2).
	if server.VotedFor != nil && *server.VotedFor != args.CandidateID {
		return
	}
	// Only vote for candidates whose log is at least as up-to-date as
	// ours (Section 5.4).
	last, ok := server.lastLogEntry()
	if !ok {
		return
	}
	upToDate := args.LastLogTerm > last.Term ||
		(args.LastLogTerm == last.Term && args.LastLogIndex >= last.Index)
	if !upToDate {
		return
	}

	candidate := args.CandidateID
	server.VotedFor = &candidate
	if !server.persistState() {
		return
	}
	// A granted vote is evidence of a live candidate, so we should not
	// start competing with it right away.
	server.electionTimerChan <- true
	result.VoteGranted = true
	log.Printf("%v: granted vote to %v for term %d\n", server.MyID, candidate, server.Term)
}

// voteTally accumulates responses for one election. It lives entirely
// on the decision loop.
type voteTally struct {
	term    int64
	granted int
	decided bool
}

// startElection transitions to Candidate for a fresh term and asks all
// peers for their vote in parallel. Individual RPC failures simply do
// not count towards quorum; an inconclusive election times out and a
// new one starts at a higher term.
func (server *RaftServer) startElection() {
	server.State = Candidate
	server.CurrentLeader = nil
	server.Leader = nil
	server.Term++
	server.VotedFor = &server.MyID
	if !server.persistState() {
		return
	}
	log.Printf("%v: starting election for term %d\n", server.MyID, server.Term)

	last, ok := server.lastLogEntry()
	if !ok {
		return
	}
	request := common.RequestVoteRPC{
		Term:         server.Term,
		CandidateID:  server.MyID,
		LastLogIndex: last.Index,
		LastLogTerm:  last.Term,
	}
	// We always vote for ourselves.
	tally := &voteTally{term: server.Term, granted: 1}
	if tally.granted >= server.Config.QuorumSize() {
		// Single-server cluster.
		tally.decided = true
		server.convertToLeader()
		return
	}

	for _, peer := range server.Peers {
		peer := peer
		go func() {
			var response common.RequestVoteRPCResult
			if err := peer.RequestVote(&request, &response); err != nil {
				log.Printf("%v: error requesting vote from %v: %+v\n", server.MyID, peer.GetID(), err)
				return
			}
			server.enqueue(func() { server.handleVoteResponse(tally, &response) })
		}()
	}
}

func (server *RaftServer) handleVoteResponse(tally *voteTally, response *common.RequestVoteRPCResult) {
	if response.Term > server.Term {
		server.adoptTerm(response.Term)
		return
	}
	// Discard responses belonging to a stale election.
	if server.State != Candidate || server.Term != tally.term || tally.decided {
		return
	}
	if !response.VoteGranted {
		return
	}
	tally.granted++
	if tally.granted >= server.Config.QuorumSize() {
		tally.decided = true
		log.Printf("%v: won election for term %d with %d votes\n", server.MyID, server.Term, tally.granted)
		server.convertToLeader()
	}
}

// convertToLeader installs the leader-only volatile state and
// immediately asserts leadership with a heartbeat round so followers
// do not time out.
func (server *RaftServer) convertToLeader() {
	if server.State != Candidate {
		panic("invalid transition to Leader from " + server.State.String())
	}
	last, ok := server.lastLogEntry()
	if !ok {
		return
	}
	log.Printf("%v: converting to leader (term %d)\n", server.MyID, server.Term)
	server.State = Leader
	server.CurrentLeader = &server.MyID
	server.Leader = &leaderVolatileState{
		NextIndex:  make(map[uuid.UUID]int64),
		MatchIndex: make(map[uuid.UUID]int64),
	}
	for _, peer := range server.Peers {
		server.Leader.NextIndex[peer.GetID()] = last.Index + 1
		server.Leader.MatchIndex[peer.GetID()] = 0
	}
	server.electionTimerChan <- false
	server.heartbeatTimerChan <- true
	server.replicateToAll()
}
