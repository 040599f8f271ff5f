package persistent

// Bolt is a pure Go key/value store that doesn't require a full
// database server such as Postgres or MySQL. Its transactions give us
// the durability point for the log: once Update returns, the entries
// survive a crash.
import (
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/clusterlog/raft/common"
)

var logsBucketName = []byte("logs")

// DbLogStore is a log store implementation backed by a Bolt DB.
type DbLogStore struct {
	db *bolt.DB
}

var _ common.LogStore = DbLogStore{}

func CreateDbLogStore(dataBaseFilePath string) (DbLogStore, error) {
	// Open the .db data file. It will be created if it doesn't exist.
	db, err := bolt.Open(dataBaseFilePath, 0600, nil)
	if err != nil {
		return DbLogStore{}, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logsBucketName)
		return err
	})
	if err != nil {
		return DbLogStore{}, err
	}

	return DbLogStore{db: db}, nil
}

// lastIndex returns the highest stored index, or -1 for an empty log.
func lastIndex(bucket *bolt.Bucket) int64 {
	key, _ := bucket.Cursor().Last()
	if key == nil {
		return -1
	}
	return keyToIndex(key)
}

func (d DbLogStore) Append(entries ...common.LogEntry) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucketName)
		last := lastIndex(bucket)
		for _, entry := range entries {
			if entry.Index > last+1 {
				return fmt.Errorf("append at index %d would leave a hole (last index %d)", entry.Index, last)
			}
			val, err := encodeEntry(entry)
			if err != nil {
				return err
			}
			if err := bucket.Put(indexToKey(entry.Index), val); err != nil {
				return err
			}
			if entry.Index > last {
				last = entry.Index
			}
		}
		return nil
	})
}

func (d DbLogStore) Get(index int64) (*common.LogEntry, error) {
	var entry common.LogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(logsBucketName).Get(indexToKey(index))
		if val == nil {
			return common.ErrNotFound
		}
		var err error
		entry, err = decodeEntry(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d DbLogStore) GetLast() (*common.LogEntry, error) {
	var entry common.LogEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		_, val := tx.Bucket(logsBucketName).Cursor().Last()
		if val == nil {
			return common.ErrNotFound
		}
		var err error
		entry, err = decodeEntry(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d DbLogStore) Length() (int64, error) {
	var length int64
	err := d.db.View(func(tx *bolt.Tx) error {
		length = lastIndex(tx.Bucket(logsBucketName)) + 1
		return nil
	})
	return length, err
}

func (d DbLogStore) TruncateFrom(index int64) error {
	if index <= 0 {
		return fmt.Errorf("cannot truncate the sentinel entry (index %d)", index)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(logsBucketName).Cursor()
		for key, _ := cursor.Seek(indexToKey(index)); key != nil; key, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d DbLogStore) Close() error {
	return d.db.Close()
}
