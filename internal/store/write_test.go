package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/histsync/internal/envelope"
	"github.com/roach88/histsync/internal/record"
)

func TestPush_ContiguousSequence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	host := record.NewHostID()

	for i, r := range createTestChain(host, record.TagHistory, 5) {
		idx, err := s.Push(ctx, r)
		require.NoError(t, err, "push %d", i)
		assert.Equal(t, record.Idx(i), idx)
	}

	status, err := s.Status(ctx)
	require.NoError(t, err)
	last, ok := status.Get(host, record.TagHistory)
	require.True(t, ok)
	assert.Equal(t, record.Idx(4), last)
}

func TestPush_RejectsGap(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestChain(record.NewHostID(), record.TagHistory, 3)

	_, err := s.Push(ctx, recs[0])
	require.NoError(t, err)

	_, err = s.Push(ctx, recs[2])
	assert.ErrorIs(t, err, record.ErrNonContiguousIdx)

	var ae *record.AppendError
	assert.True(t, errors.As(err, &ae))
}

func TestPush_RejectsFirstNonZero(t *testing.T) {
	s := createTestStore(t)
	recs := createTestChain(record.NewHostID(), record.TagKV, 2)

	_, err := s.Push(context.Background(), recs[1])
	assert.ErrorIs(t, err, record.ErrNonContiguousIdx)
}

func TestPush_RejectsWrongParent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestChain(record.NewHostID(), record.TagHistory, 2)

	_, err := s.Push(ctx, recs[0])
	require.NoError(t, err)

	bogus := record.NewRecordID()
	recs[1].Parent = &bogus
	_, err = s.Push(ctx, recs[1])
	assert.ErrorIs(t, err, record.ErrChainMismatch)
}

func TestPush_IdempotentRetry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	host := record.NewHostID()
	recs := createTestChain(host, record.TagHistory, 3)

	for _, r := range recs {
		_, err := s.Push(ctx, r)
		require.NoError(t, err)
	}
	before, err := s.All(ctx)
	require.NoError(t, err)

	// Retry of an already-applied idx, both middle and tail.
	for _, r := range []int{1, 2} {
		idx, err := s.Push(ctx, recs[r])
		require.NoError(t, err)
		assert.Equal(t, recs[r].Idx, idx)
	}

	after, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	last, _ := status.Get(host, record.TagHistory)
	assert.Equal(t, record.Idx(2), last)
}

func TestPush_ForkAtExistingIdx(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestChain(record.NewHostID(), record.TagHistory, 2)
	for _, r := range recs {
		_, err := s.Push(ctx, r)
		require.NoError(t, err)
	}

	fork := recs[1]
	fork.ID = record.NewRecordID()
	_, err := s.Push(ctx, fork)
	assert.ErrorIs(t, err, record.ErrChainMismatch)
}

func TestPush_IDStoredInAnotherStream(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	host := record.NewHostID()
	history := createTestChain(host, record.TagHistory, 1)
	kv := createTestChain(host, record.TagKV, 1)
	kv[0].ID = history[0].ID

	_, err := s.Push(ctx, history[0])
	require.NoError(t, err)

	_, err = s.Push(ctx, kv[0])
	require.ErrorIs(t, err, record.ErrChainMismatch)
	assert.NotErrorIs(t, err, record.ErrStorageUnavailable)

	var appendErr *record.AppendError
	require.ErrorAs(t, err, &appendErr)
	assert.Equal(t, kv[0].Stream(), appendErr.Stream)

	last, err := s.Last(ctx, host, record.TagKV)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestPush_RejectionIsolatedToStream(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	good := createTestChain(record.NewHostID(), record.TagHistory, 2)
	bad := createTestChain(record.NewHostID(), record.TagHistory, 2)

	_, err := s.Push(ctx, good[0])
	require.NoError(t, err)
	_, err = s.Push(ctx, bad[1])
	require.Error(t, err)
	_, err = s.Push(ctx, good[1])
	require.NoError(t, err)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status.Streams(), 1)
}

func TestPushBatch_AllOrNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	host := record.NewHostID()
	recs := createTestChain(host, record.TagHistory, 4)

	// Page with a hole at idx 2.
	_, err := s.PushBatch(ctx, []record.Record[record.Encrypted]{recs[0], recs[1], recs[3]})
	require.ErrorIs(t, err, record.ErrNonContiguousIdx)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed page must not apply partially")

	inserted, err := s.PushBatch(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 4, inserted)

	inserted, err = s.PushBatch(ctx, recs[2:])
	require.NoError(t, err)
	assert.Equal(t, 0, inserted, "duplicate page is a no-op")
}

func TestPush_ConcurrentStreams(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	const streams = 4
	chains := make([][]record.Record[record.Encrypted], streams)
	for i := range chains {
		chains[i] = createTestChain(record.NewHostID(), record.TagHistory, 20)
	}

	var wg sync.WaitGroup
	errs := make(chan error, streams)
	for _, chain := range chains {
		wg.Add(1)
		go func(chain []record.Record[record.Encrypted]) {
			defer wg.Done()
			for _, r := range chain {
				if _, err := s.Push(ctx, r); err != nil {
					errs <- err
					return
				}
			}
		}(chain)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	status, err := s.Status(ctx)
	require.NoError(t, err)
	for _, chain := range chains {
		last, ok := status.Get(chain[0].Host, record.TagHistory)
		require.True(t, ok)
		assert.Equal(t, record.Idx(19), last)
	}
}

func TestPush_ConcurrentSameStreamRetries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestChain(record.NewHostID(), record.TagHistory, 10)

	// Two writers racing the same chain: every push either applies or is
	// recognised as already applied.
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range recs {
				for {
					_, err := s.Push(ctx, r)
					if err == nil {
						break
					}
					if !errors.Is(err, record.ErrNonContiguousIdx) {
						t.Errorf("unexpected error: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestRange_RoundTripsDecryptedPayloads(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key, err := envelope.GenerateKey()
	require.NoError(t, err)
	host := record.NewHostID()

	var (
		parent   *record.RecordID
		payloads [][]byte
	)
	for i := 0; i < 6; i++ {
		plain := record.Record[record.Decrypted]{
			ID: record.NewRecordID(), Host: host, Parent: parent, Version: "v1",
			Tag: record.TagHistory, Idx: record.Idx(i), Timestamp: int64(i),
			Data: record.Decrypted([]byte{byte(i), 0x00, 0xfe}),
		}
		sealed, err := envelope.Seal(plain, key)
		require.NoError(t, err)
		_, err = s.Push(ctx, sealed)
		require.NoError(t, err)

		id := plain.ID
		parent = &id
		payloads = append(payloads, plain.Data)
	}

	var got [][]byte
	for start := record.Idx(0); ; {
		page, err := s.Range(ctx, host, record.TagHistory, start, 4)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			opened, err := envelope.Open(r, key)
			require.NoError(t, err)
			got = append(got, opened.Data)
		}
		start = page[len(page)-1].Idx + 1
	}
	assert.Equal(t, payloads, got)
}

func TestDelete_RefreshesTail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	host := record.NewHostID()
	recs := createTestChain(host, record.TagHistory, 3)
	_, err := s.PushBatch(ctx, recs)
	require.NoError(t, err)

	n, err := s.Delete(ctx, []record.RecordID{recs[2].ID, record.NewRecordID()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	last, ok := status.Get(host, record.TagHistory)
	require.True(t, ok)
	assert.Equal(t, record.Idx(1), last)

	_, err = s.Delete(ctx, []record.RecordID{recs[0].ID, recs[1].ID})
	require.NoError(t, err)
	status, err = s.Status(ctx)
	require.NoError(t, err)
	_, ok = status.Get(host, record.TagHistory)
	assert.False(t, ok, "emptied stream leaves the status")
}

func TestReplaceEnvelopes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	recs := createTestChain(record.NewHostID(), record.TagKV, 2)
	_, err := s.PushBatch(ctx, recs)
	require.NoError(t, err)

	updated := recs[1]
	updated.Data = record.Encrypted{Scheme: "v1", Nonce: []byte("n"), Ciphertext: []byte("rekeyed")}
	require.NoError(t, s.ReplaceEnvelopes(ctx, []record.Record[record.Encrypted]{updated}))

	got, err := s.Get(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	missing := updated
	missing.ID = record.NewRecordID()
	err = s.ReplaceEnvelopes(ctx, []record.Record[record.Encrypted]{updated, missing})
	assert.ErrorIs(t, err, record.ErrNotFound)
}
