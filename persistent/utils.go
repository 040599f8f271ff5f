package persistent

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/clusterlog/raft/common"
)

func encodeEntry(entry common.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (common.LogEntry, error) {
	var entry common.LogEntry
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry)
	return entry, err
}

// Log indices are stored as big-endian keys so that Bolt's
// lexicographic ordering matches the numeric ordering.
func indexToKey(index int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(index))
	return buf
}

func keyToIndex(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
