package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/roach88/histsync/internal/record"
)

func newMemStorage(t *testing.T) *LevelStorage {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewLevelStorage(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func testChain(host record.HostID, tag record.Tag, n int) []record.Record[record.Encrypted] {
	var (
		recs   []record.Record[record.Encrypted]
		parent *record.RecordID
	)
	for i := 0; i < n; i++ {
		r := record.Record[record.Encrypted]{
			ID: record.NewRecordID(), Host: host, Parent: parent, Version: "v1",
			Tag: tag, Idx: record.Idx(i), Timestamp: int64(i),
			Data: record.Encrypted{Scheme: "v1", Nonce: make([]byte, 24), Ciphertext: []byte(fmt.Sprintf("ct-%d", i))},
		}
		id := r.ID
		parent = &id
		recs = append(recs, r)
	}
	return recs
}

const (
	aliceToken = "alice-secret"
	bobToken   = "bob-secret"
)

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.Tokens == nil {
		cfg.Tokens = map[string]string{aliceToken: "alice", bobToken: "bob"}
	}
	srv := httptest.NewServer(New(newMemStorage(t), cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
