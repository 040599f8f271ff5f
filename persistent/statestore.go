package persistent

import (
	"encoding/binary"

	"github.com/boltdb/bolt"
	"github.com/clusterlog/raft/common"
	"github.com/google/uuid"
)

var (
	stateBucketName = []byte("state")
	termKey         = []byte("term")
	votedForKey     = []byte("votedFor")
)

// DbStateStore persists a raft server's term and vote in a Bolt DB.
// Both values are written in a single transaction so a crash can never
// separate a term from the vote cast in it.
type DbStateStore struct {
	db *bolt.DB
}

var _ common.StateStore = DbStateStore{}

func CreateDbStateStore(dataBaseFilePath string) (DbStateStore, error) {
	db, err := bolt.Open(dataBaseFilePath, 0600, nil)
	if err != nil {
		return DbStateStore{}, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucketName)
		return err
	})
	if err != nil {
		return DbStateStore{}, err
	}

	return DbStateStore{db: db}, nil
}

func (store DbStateStore) SetState(term int64, votedFor *uuid.UUID) error {
	return store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucketName)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(term))
		if err := bucket.Put(termKey, buf); err != nil {
			return err
		}
		if votedFor == nil {
			return bucket.Delete(votedForKey)
		}
		return bucket.Put(votedForKey, []byte(votedFor.String()))
	})
}

func (store DbStateStore) GetState() (term int64, votedFor *uuid.UUID, err error) {
	err = store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(stateBucketName)
		if val := bucket.Get(termKey); val != nil {
			term = int64(binary.BigEndian.Uint64(val))
		}
		if val := bucket.Get(votedForKey); val != nil {
			id, parseErr := uuid.ParseBytes(val)
			if parseErr != nil {
				return parseErr
			}
			votedFor = &id
		}
		return nil
	})
	return
}

func (store DbStateStore) Close() error {
	return store.db.Close()
}
