package raft

import (
	"math/rand"
	"time"
)

// electionTimeoutController runs on its own goroutine and owns the
// election timer, the single source of election-triggering events.
// It is controlled through electionTimerChan: true resets the timer,
// false disables it until the next reset. The timeout is re-randomized
// in [timeout, 2*timeout) on every reset so that simultaneous
// candidacies stay statistically rare. On expiry it hands the decision
// loop a request to start an election.
func (server *RaftServer) electionTimeoutController(timeout time.Duration) {
	randomize := func(timeout time.Duration) time.Duration {
		return timeout + time.Duration(rand.Int63n(int64(timeout)))
	}
	ticker := time.NewTicker(randomize(timeout))
	defer ticker.Stop()
	for {
		select {
		case <-server.StopChan:
			return
		case <-ticker.C:
			server.enqueue(func() {
				// A queued tick can still arrive after the timer was
				// disabled; a leader ignores it.
				if server.State != Leader {
					server.startElection()
				}
			})
			ticker.Reset(randomize(timeout))
		case reset := <-server.electionTimerChan:
			if reset {
				ticker.Reset(randomize(timeout))
			} else {
				ticker.Stop()
			}
		}
	}
}

// heartbeatTimeoutController triggers a replication round at a fixed
// interval while this server is leader. The interval must be well
// below the minimum election timeout, otherwise followers keep
// starting elections under normal operation.
func (server *RaftServer) heartbeatTimeoutController(timeout time.Duration) {
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()
	for {
		select {
		case <-server.StopChan:
			return
		case <-ticker.C:
			server.enqueue(func() {
				if server.State == Leader {
					server.replicateToAll()
				}
			})
		case reset := <-server.heartbeatTimerChan:
			if reset {
				ticker.Reset(timeout)
			} else {
				ticker.Stop()
			}
		}
	}
}
