package raft

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrServerStopped is returned by calls made on a stopped (or crashed)
// raft server.
var ErrServerStopped = errors.New("raft server is stopped")

// NotLeaderError is returned by Submit on a server that is not the
// current leader. LeaderHint, when non-nil, identifies the server that
// was last known to be leader so the caller can redirect.
type NotLeaderError struct {
	LeaderHint *uuid.UUID
}

func (e *NotLeaderError) Error() string {
	if e.LeaderHint != nil {
		return fmt.Sprintf("not the leader (try %v)", *e.LeaderHint)
	}
	return "not the leader (no known leader)"
}
