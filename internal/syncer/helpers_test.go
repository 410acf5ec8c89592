package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/histsync/internal/record"
	"github.com/roach88/histsync/internal/store"
)

func openStore(t *testing.T, name string) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func chain(host record.HostID, tag record.Tag, n int) []record.Record[record.Encrypted] {
	var (
		recs   []record.Record[record.Encrypted]
		parent *record.RecordID
	)
	for i := 0; i < n; i++ {
		r := record.Record[record.Encrypted]{
			ID: record.NewRecordID(), Host: host, Parent: parent, Version: "v1",
			Tag: tag, Idx: record.Idx(i), Timestamp: int64(i),
			Data: record.Encrypted{Scheme: "v1", Nonce: []byte("n"), Ciphertext: []byte(fmt.Sprint(i))},
		}
		id := r.ID
		parent = &id
		recs = append(recs, r)
	}
	return recs
}

func seed(t *testing.T, s *store.Store, recs []record.Record[record.Encrypted]) {
	t.Helper()
	_, err := s.PushBatch(context.Background(), recs)
	require.NoError(t, err)
}

// fakeRemote is a relay backed by a store, with fault injection.
type fakeRemote struct {
	s       *store.Store
	maxSize int

	mu           sync.Mutex
	pushFailures int // next N Push calls fail with ErrTransport
	nextFailures int
	pushCalls    int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	return &fakeRemote{s: openStore(t, "remote")}
}

func (f *fakeRemote) Status(ctx context.Context) (record.Status, error) {
	return f.s.Status(ctx)
}

func (f *fakeRemote) Push(ctx context.Context, recs []record.Record[record.Encrypted]) (record.PushResult, error) {
	f.mu.Lock()
	f.pushCalls++
	if f.pushFailures > 0 {
		f.pushFailures--
		f.mu.Unlock()
		return record.PushResult{}, fmt.Errorf("connection reset: %w", ErrTransport)
	}
	f.mu.Unlock()

	res := record.PushResult{Rejected: []record.Rejection{}}
	for _, r := range recs {
		if f.maxSize > 0 && r.Data.Size() > f.maxSize {
			res.Rejected = append(res.Rejected, record.Rejection{ID: r.ID, Code: record.CodeRecordTooLarge, Message: "too large"})
			continue
		}
		if _, err := f.s.Push(ctx, r); err != nil {
			res.Rejected = append(res.Rejected, record.Rejection{ID: r.ID, Code: record.CodeOf(err), Message: err.Error()})
			continue
		}
		res.Accepted++
	}
	return res, nil
}

func (f *fakeRemote) Next(ctx context.Context, host record.HostID, tag record.Tag, start record.Idx, count int) ([]record.Record[record.Encrypted], error) {
	f.mu.Lock()
	if f.nextFailures > 0 {
		f.nextFailures--
		f.mu.Unlock()
		return nil, fmt.Errorf("timeout: %w", ErrTransport)
	}
	f.mu.Unlock()
	return f.s.Range(ctx, host, tag, start, count)
}

// brokenLocal fails every write with a storage error.
type brokenLocal struct {
	*store.Store
}

func (brokenLocal) PushBatch(context.Context, []record.Record[record.Encrypted]) (int, error) {
	return 0, fmt.Errorf("push: %w: disk I/O error", record.ErrStorageUnavailable)
}

func fastOptions() Options {
	return Options{PageSize: 2, Workers: 3, Retries: 3, Backoff: 1}
}
