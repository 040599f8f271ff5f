package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
)

type RequestType int

const (
	Set RequestType = iota
	Get
)

// Request is the command format understood by the key-value FSM.
// TransactionId makes retries idempotent: a request whose id has
// already been applied is answered from the recorded response instead
// of being applied a second time.
type Request struct {
	Type          RequestType
	Key, Val      string
	TransactionId uuid.UUID
}

var errKeyNotFound = errors.New("key does not exist")

type response struct {
	bytes []byte
	err   error
}

// KeyValFSM is the implementation of the common.FSM interface for the
// key-value store. We store the key value pairs in-memory because they
// can be reliably reconstructed on server restarts by simply replaying
// the log.
type KeyValFSM struct {
	store map[string]string
	seen  map[uuid.UUID]response
}

var _ common.FSM = &KeyValFSM{}

func NewKeyValFSM() *KeyValFSM {
	return &KeyValFSM{
		store: make(map[string]string),
		seen:  make(map[uuid.UUID]response),
	}
}

func (fsm *KeyValFSM) Apply(entry common.LogEntry) ([]byte, error) {
	var request Request
	if err := json.Unmarshal(entry.Data, &request); err != nil {
		return nil, err
	}
	if request.TransactionId != uuid.Nil {
		if resp, ok := fsm.seen[request.TransactionId]; ok {
			return resp.bytes, resp.err
		}
	}
	resp := fsm.applyRequest(request)
	if request.TransactionId != uuid.Nil {
		fsm.seen[request.TransactionId] = resp
	}
	return resp.bytes, resp.err
}

func (fsm *KeyValFSM) applyRequest(request Request) response {
	switch request.Type {
	case Set:
		fsm.store[request.Key] = request.Val
		return response{}
	case Get:
		val, ok := fsm.store[request.Key]
		if !ok {
			return response{err: errKeyNotFound}
		}
		return response{bytes: []byte(val)}
	default:
		return response{err: fmt.Errorf("unknown request type %d", request.Type)}
	}
}
