package raft

import (
	"errors"
	"fmt"
	"sort"

	"github.com/clusterlog/raft/common"
)

// maxEntriesPerAppend bounds the batch size of a single AppendEntries
// request; a lagging follower is caught up over multiple rounds.
const maxEntriesPerAppend = 64

// AppendEntries handles the AppendEntries RPC from a leader, covering
// both heartbeats and log replication.
func (server *RaftServer) AppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) error {
	if server.disconnected.Load() {
		return fmt.Errorf("%v is disconnected", server.MyID)
	}
	return server.do(func() { server.handleAppendEntries(args, result) })
}

func (server *RaftServer) handleAppendEntries(args *common.AppendEntriesRPC, result *common.AppendEntriesRPCResult) {
	result.Success = false
	// Stale leader, reject (Section 5.1). Our term in the reply drives
	// it to step down.
	if args.Term < server.Term {
		result.Term = server.Term
		return
	}
	if args.Term > server.Term {
		server.adoptTerm(args.Term)
	} else if server.State != Follower {
		// A candidate that sees a legitimate leader for its own term
		// concedes.
		server.convertToFollower()
	}
	leader := args.Leader
	server.CurrentLeader = &leader
	server.electionTimerChan <- true
	result.Term = server.Term

	last, ok := server.lastLogEntry()
	if !ok {
		return
	}

	// Log-matching check: we must hold the entry the leader believes
	// immediately precedes the new ones.
	prev, err := server.LogStore.Get(args.PrevLogIndex)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			server.fail(err)
			return
		}
		// Our log is too short; tell the leader where it ends.
		result.MatchIndex = last.Index
		return
	}
	if prev.Term != args.PrevLogTerm {
		result.MatchIndex = args.PrevLogIndex - 1
		return
	}

	// Append the new entries, truncating our log at the first
	// conflict. Entries we already hold are skipped, which makes a
	// duplicate delivery of the same request a no-op.
	for i, entry := range args.Entries {
		existing, err := server.LogStore.Get(entry.Index)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			server.fail(err)
			return
		}
		if err == nil {
			if existing.Term == entry.Term {
				continue
			}
			// Same index, different term: this suffix was never
			// committed and must yield to the leader's history.
			if err := server.LogStore.TruncateFrom(entry.Index); err != nil {
				server.fail(err)
				return
			}
		}
		if err := server.LogStore.Append(args.Entries[i:]...); err != nil {
			server.fail(err)
			return
		}
		break
	}

	result.Success = true
	result.MatchIndex = args.PrevLogIndex + int64(len(args.Entries))

	if args.LeaderCommitIndex > server.CommitIndex {
		commit := args.LeaderCommitIndex
		if result.MatchIndex < commit {
			commit = result.MatchIndex
		}
		server.CommitIndex = commit
		server.applyCommitted()
	}
}

// replicateToAll starts a replication round towards every peer and
// re-evaluates the commit index (a single-server cluster commits its
// entries immediately).
func (server *RaftServer) replicateToAll() {
	if server.State != Leader {
		return
	}
	for _, peer := range server.Peers {
		server.replicate(peer)
	}
	server.advanceCommitIndex()
}

// replicate builds one AppendEntries request for the peer from its
// nextIndex and dispatches it on a fresh goroutine. A heartbeat is the
// same request with an empty entries slice.
func (server *RaftServer) replicate(peer common.RPCServer) {
	next := server.Leader.NextIndex[peer.GetID()]
	prev, err := server.LogStore.Get(next - 1)
	if err != nil {
		server.fail(err)
		return
	}
	last, ok := server.lastLogEntry()
	if !ok {
		return
	}
	request := common.AppendEntriesRPC{
		Term:              server.Term,
		Leader:            server.MyID,
		PrevLogIndex:      prev.Index,
		PrevLogTerm:       prev.Term,
		LeaderCommitIndex: server.CommitIndex,
	}
	for index := next; index <= last.Index && len(request.Entries) < maxEntriesPerAppend; index++ {
		entry, err := server.LogStore.Get(index)
		if err != nil {
			server.fail(err)
			return
		}
		request.Entries = append(request.Entries, *entry)
	}
	go func() {
		var response common.AppendEntriesRPCResult
		if err := peer.AppendEntries(&request, &response); err != nil {
			// A failed or timed-out call is a non-response, not an
			// error; the next heartbeat round retries.
			return
		}
		server.enqueue(func() { server.handleAppendEntriesResponse(peer, &request, &response) })
	}()
}

func (server *RaftServer) handleAppendEntriesResponse(peer common.RPCServer, request *common.AppendEntriesRPC, response *common.AppendEntriesRPCResult) {
	if response.Term > server.Term {
		server.adoptTerm(response.Term)
		return
	}
	// Discard replies belonging to an earlier leadership of ours.
	if server.State != Leader || server.Term != request.Term {
		return
	}
	id := peer.GetID()
	if response.Success {
		if response.MatchIndex > server.Leader.MatchIndex[id] {
			server.Leader.MatchIndex[id] = response.MatchIndex
		}
		if response.MatchIndex+1 > server.Leader.NextIndex[id] {
			server.Leader.NextIndex[id] = response.MatchIndex + 1
		}
		server.advanceCommitIndex()
		if last, ok := server.lastLogEntry(); ok && server.State == Leader && server.Leader.NextIndex[id] <= last.Index {
			// Peer is still behind, keep streaming.
			server.replicate(peer)
		}
		return
	}
	// Log mismatch: back off nextIndex, jumping straight to the
	// follower's reported match point when that is further back than a
	// single-step decrement, and retry immediately.
	next := server.Leader.NextIndex[id] - 1
	if hint := response.MatchIndex + 1; hint < next {
		next = hint
	}
	if next < 1 {
		next = 1
	}
	server.Leader.NextIndex[id] = next
	server.replicate(peer)
}

// advanceCommitIndex moves the leader's commit index to the highest
// index replicated on a quorum, provided the entry there belongs to
// the leader's current term. Entries from earlier terms are never
// committed by counting replicas; they commit implicitly when a
// current-term entry above them does (Section 5.4.2).
func (server *RaftServer) advanceCommitIndex() {
	if server.State != Leader {
		return
	}
	last, ok := server.lastLogEntry()
	if !ok {
		return
	}
	// Our own log counts towards the quorum.
	matchIndexes := []int64{last.Index}
	for _, index := range server.Leader.MatchIndex {
		matchIndexes = append(matchIndexes, index)
	}
	sort.Slice(matchIndexes, func(i, j int) bool {
		return matchIndexes[i] > matchIndexes[j]
	})
	// The value at position quorum-1 of the descending sort is the
	// highest index replicated on at least a quorum of servers.
	candidate := matchIndexes[server.Config.QuorumSize()-1]
	if candidate <= server.CommitIndex {
		return
	}
	entry, err := server.LogStore.Get(candidate)
	if err != nil {
		server.fail(err)
		return
	}
	if entry.Term != server.Term {
		return
	}
	server.CommitIndex = candidate
	server.applyCommitted()
}
