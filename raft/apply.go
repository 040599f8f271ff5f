package raft

import "log"

// applyCommitted feeds the entries in (appliedIndex, commitIndex] to
// the FSM in index order. Each committed entry is applied exactly once
// per process lifetime; after a restart the applied index starts at 0
// and the state machine is rebuilt by replaying the log.
func (server *RaftServer) applyCommitted() {
	for server.AppliedIndex < server.CommitIndex {
		entry, err := server.LogStore.Get(server.AppliedIndex + 1)
		if err != nil {
			server.fail(err)
			return
		}
		bytes, applyErr := server.FSM.Apply(*entry)
		if applyErr != nil {
			// The FSM rejecting a command is an application-level
			// outcome, not a consensus failure.
			log.Printf("%v: FSM rejected entry %d: %+v\n", server.MyID, entry.Index, applyErr)
		}
		server.AppliedIndex = entry.Index
		if ch, ok := server.applyWaiters[entry.Index]; ok {
			ch <- ApplyMsg{Err: applyErr, Bytes: bytes}
			delete(server.applyWaiters, entry.Index)
		}
	}
}
