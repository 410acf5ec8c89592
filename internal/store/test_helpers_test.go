package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/roach88/histsync/internal/record"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChain builds n chained records for (host, tag) with opaque
// payloads; the store never looks inside envelopes.
func createTestChain(host record.HostID, tag record.Tag, n int) []record.Record[record.Encrypted] {
	var (
		recs   []record.Record[record.Encrypted]
		parent *record.RecordID
	)
	for i := 0; i < n; i++ {
		r := record.Record[record.Encrypted]{
			ID:        record.NewRecordID(),
			Host:      host,
			Parent:    parent,
			Version:   "v1",
			Tag:       tag,
			Idx:       record.Idx(i),
			Timestamp: int64(1000 + i),
			Data: record.Encrypted{
				Scheme:     "v1",
				Nonce:      []byte{byte(i)},
				Ciphertext: []byte(fmt.Sprintf("payload-%d", i)),
			},
		}
		id := r.ID
		parent = &id
		recs = append(recs, r)
	}
	return recs
}
